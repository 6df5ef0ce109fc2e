package dto

// UpdatePolicyRequest defines payload for adjusting operational policy.
// Only provided fields are changed.
type UpdatePolicyRequest struct {
	MinSquadMembers          *int  `json:"minSquadMembers" validate:"omitempty,min=1,max=50"`
	MaxSquadMembers          *int  `json:"maxSquadMembers" validate:"omitempty,min=1,max=50"`
	RequireLeadership        *bool `json:"requireLeadershipForActivation"`
	EnforceChangeDayForLeave *bool `json:"enforceChangeDayForLeave"`
	IncubationDurationDays   *int  `json:"incubationDurationDays" validate:"omitempty,min=1,max=30"`
}
