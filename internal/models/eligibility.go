package models

import "time"

// Eligibility reason codes recorded on snapshots.
const (
	ReasonIndividualTargetMet           = "INDIVIDUAL_TARGET_MET"
	ReasonIndividualTargetNotMet        = "INDIVIDUAL_TARGET_NOT_MET"
	ReasonIndividualTargetNotConfigured = "INDIVIDUAL_TARGET_NOT_CONFIGURED"
	ReasonSquadTargetMet                = "SQUAD_TARGET_MET"
	ReasonSquadTargetNotMet             = "SQUAD_TARGET_NOT_MET"
	ReasonSquadTargetNotConfigured      = "SQUAD_TARGET_NOT_CONFIGURED"
)

// IndividualEligibility is the recomputed snapshot of whether a student met
// the phase's individual target. Re-evaluation overwrites it in place.
type IndividualEligibility struct {
	PhaseID     string    `db:"phase_id" json:"phase_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	Points      int       `db:"points" json:"points"`
	IsEligible  bool      `db:"is_eligible" json:"is_eligible"`
	ReasonCode  string    `db:"reason_code" json:"reason_code"`
	EvaluatedAt time.Time `db:"evaluated_at" json:"evaluated_at"`
}

// SquadEligibility is the recomputed snapshot of whether a squad met its
// tier-specific target for the phase.
type SquadEligibility struct {
	PhaseID     string    `db:"phase_id" json:"phase_id"`
	SquadID     string    `db:"squad_id" json:"squad_id"`
	Tier        Tier      `db:"tier" json:"tier"`
	Points      int       `db:"points" json:"points"`
	IsEligible  bool      `db:"is_eligible" json:"is_eligible"`
	ReasonCode  string    `db:"reason_code" json:"reason_code"`
	EvaluatedAt time.Time `db:"evaluated_at" json:"evaluated_at"`
}
