package models

import "time"

// Tier enumerates squad strength classes ordered from lowest to highest.
type Tier string

const (
	TierD Tier = "D"
	TierC Tier = "C"
	TierB Tier = "B"
	TierA Tier = "A"
)

var tierRank = map[Tier]int{
	TierD: 0,
	TierC: 1,
	TierB: 2,
	TierA: 3,
}

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierD, TierC, TierB, TierA}

// Valid reports whether the tier belongs to the ordered set.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank returns the ordinal position of the tier (D lowest).
func (t Tier) Rank() int {
	return tierRank[t]
}

// Next returns the tier one step up, or the same tier when already at the top.
func (t Tier) Next() Tier {
	switch t {
	case TierD:
		return TierC
	case TierC:
		return TierB
	case TierB:
		return TierA
	default:
		return t
	}
}

// Prev returns the tier one step down, or the same tier when already at the bottom.
func (t Tier) Prev() Tier {
	switch t {
	case TierA:
		return TierB
	case TierB:
		return TierC
	case TierC:
		return TierD
	default:
		return t
	}
}

// SquadStatus captures the lifecycle state of a squad.
type SquadStatus string

const (
	SquadStatusActive   SquadStatus = "ACTIVE"
	SquadStatusInactive SquadStatus = "INACTIVE"
	SquadStatusFrozen   SquadStatus = "FROZEN"
)

// Squad represents a competitive student squad.
type Squad struct {
	ID        string      `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Name      string      `db:"name" json:"name"`
	Tier      Tier        `db:"tier" json:"tier"`
	Status    SquadStatus `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// SquadFilter constrains squad listing queries.
type SquadFilter struct {
	Tier      Tier
	Status    SquadStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ActivationPolicy carries the policy inputs needed to derive squad status.
type ActivationPolicy struct {
	MinMembers        int
	MaxMembers        int
	RequireLeadership bool
}

// DeriveSquadStatus computes the derived ACTIVE/INACTIVE status from the
// current composition. FROZEN is an administrative override and is never
// produced nor overwritten here; callers must skip frozen squads.
func DeriveSquadStatus(activeMembers int, leadershipFilled bool, policy ActivationPolicy) SquadStatus {
	if activeMembers < policy.MinMembers || activeMembers > policy.MaxMembers {
		return SquadStatusInactive
	}
	if policy.RequireLeadership && !leadershipFilled {
		return SquadStatusInactive
	}
	return SquadStatusActive
}
