package dto

// JoinSquadRequest defines payload for a direct admin-initiated join.
// BypassIncubation lets the admin seat a student before their rejoin
// deadline has passed.
type JoinSquadRequest struct {
	StudentID        string `json:"studentId" validate:"required,uuid4"`
	SquadID          string `json:"squadId" validate:"required,uuid4"`
	BypassIncubation bool   `json:"bypassIncubation"`
}

// UpdateRoleRequest defines payload for changing a member's role.
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=MEMBER CAPTAIN VICE_CAPTAIN STRATEGIST MANAGER"`
}

// RemoveMemberRequest defines payload for an administrative removal.
type RemoveMemberRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
