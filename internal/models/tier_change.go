package models

import "time"

// TierChangeAction enumerates the outcome of a tier recommendation.
type TierChangeAction string

const (
	TierChangePromote TierChangeAction = "PROMOTE"
	TierChangeDemote  TierChangeAction = "DEMOTE"
	TierChangeSame    TierChangeAction = "SAME"
)

// Tier change rule codes persisted for the audit trail.
const (
	RuleLastPhaseEligiblePromote  = "LAST_PHASE_ELIGIBLE_PROMOTE"
	RuleTwoPhasesIneligibleDemote = "TWO_PHASES_INELIGIBLE_DEMOTE"
	RuleSinglePhaseIneligibleHold = "SINGLE_PHASE_INELIGIBLE_HOLD"
	RuleNotEvaluatedHold          = "NOT_EVALUATED_HOLD"
	RuleAlreadyTopTier            = "ALREADY_TOP_TIER"
	RuleAlreadyBottomTier         = "ALREADY_BOTTOM_TIER"
)

// TierChangeRecord is the immutable record of an applied tier decision.
// At most one exists per (phase, squad).
type TierChangeRecord struct {
	ID              string           `db:"id" json:"id"`
	PhaseID         string           `db:"phase_id" json:"phase_id"`
	PreviousPhaseID *string          `db:"previous_phase_id" json:"previous_phase_id,omitempty"`
	SquadID         string           `db:"squad_id" json:"squad_id"`
	CurrentTier     Tier             `db:"current_tier" json:"current_tier"`
	RecommendedTier Tier             `db:"recommended_tier" json:"recommended_tier"`
	Action          TierChangeAction `db:"action" json:"action"`
	RuleCode        string           `db:"rule_code" json:"rule_code"`
	AppliedBy       string           `db:"applied_by" json:"applied_by"`
	AppliedAt       time.Time        `db:"applied_at" json:"applied_at"`
}

// RecommendTierChange applies the fixed promotion/demotion rule table.
// eligibleNow/eligiblePrev are nil when the squad was never evaluated for
// the respective phase.
func RecommendTierChange(current Tier, eligibleNow, eligiblePrev *bool) (TierChangeAction, Tier, string) {
	if eligibleNow == nil {
		return TierChangeSame, current, RuleNotEvaluatedHold
	}
	if *eligibleNow {
		if current == TierA {
			return TierChangeSame, current, RuleAlreadyTopTier
		}
		return TierChangePromote, current.Next(), RuleLastPhaseEligiblePromote
	}
	if eligiblePrev != nil && !*eligiblePrev {
		if current == TierD {
			return TierChangeSame, current, RuleAlreadyBottomTier
		}
		return TierChangeDemote, current.Prev(), RuleTwoPhasesIneligibleDemote
	}
	return TierChangeSame, current, RuleSinglePhaseIneligibleHold
}
