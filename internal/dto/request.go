package dto

// CreateJoinRequestPayload defines payload for filing a join request.
type CreateJoinRequestPayload struct {
	SquadID string `json:"squadId" validate:"required,uuid4"`
	Message string `json:"message" validate:"max=500"`
}

// CreateRoleRequestPayload defines payload for filing a leadership-role request.
type CreateRoleRequestPayload struct {
	Role    string `json:"role" validate:"required,oneof=CAPTAIN VICE_CAPTAIN STRATEGIST MANAGER"`
	Message string `json:"message" validate:"max=500"`
}

// CreateTierChangeRequestPayload defines payload for filing a tier-change request.
type CreateTierChangeRequestPayload struct {
	SquadID string `json:"squadId" validate:"required,uuid4"`
	ToTier  string `json:"toTier" validate:"required,oneof=D C B A"`
	Message string `json:"message" validate:"max=500"`
}

// DecideRequestPayload defines payload for approving or rejecting a request.
type DecideRequestPayload struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"max=500"`
}

// RequestListQuery filters request listings.
type RequestListQuery struct {
	Status    string `form:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	SquadID   string `form:"squadId" validate:"omitempty,uuid4"`
	StudentID string `form:"studentId" validate:"omitempty,uuid4"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}
