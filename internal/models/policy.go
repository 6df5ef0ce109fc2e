package models

// Operational policy configuration keys stored in the configurations table.
const (
	PolicyKeyMinSquadMembers          = "min_squad_members"
	PolicyKeyMaxSquadMembers          = "max_squad_members"
	PolicyKeyRequireLeadership        = "require_leadership_for_activation"
	PolicyKeyEnforceChangeDayForLeave = "enforce_change_day_for_leave"
	PolicyKeyIncubationDurationDays   = "incubation_duration_days"
)

// OperationalPolicy is the policy snapshot read before every capacity,
// activation, and leave decision.
type OperationalPolicy struct {
	MinSquadMembers          int  `json:"min_squad_members"`
	MaxSquadMembers          int  `json:"max_squad_members"`
	RequireLeadership        bool `json:"require_leadership_for_activation"`
	EnforceChangeDayForLeave bool `json:"enforce_change_day_for_leave"`
	IncubationDurationDays   int  `json:"incubation_duration_days"`
}

// DefaultOperationalPolicy returns the compiled-in fallback used when a
// configuration key is absent.
func DefaultOperationalPolicy() OperationalPolicy {
	return OperationalPolicy{
		MinSquadMembers:          9,
		MaxSquadMembers:          11,
		RequireLeadership:        true,
		EnforceChangeDayForLeave: true,
		IncubationDurationDays:   1,
	}
}

// Activation converts the policy into the subset used for status derivation.
func (p OperationalPolicy) Activation() ActivationPolicy {
	return ActivationPolicy{
		MinMembers:        p.MinSquadMembers,
		MaxMembers:        p.MaxSquadMembers,
		RequireLeadership: p.RequireLeadership,
	}
}
