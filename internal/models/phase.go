package models

import "time"

// PhaseStatus captures the lifecycle state of a scoring phase.
type PhaseStatus string

const (
	// PhaseStatusActive marks the single phase currently open for scoring.
	PhaseStatusActive PhaseStatus = "ACTIVE"
	// PhaseStatusInactive marks phases displaced by a newer phase before
	// their window elapsed.
	PhaseStatusInactive PhaseStatus = "INACTIVE"
	// PhaseStatusCompleted marks phases closed by the finalization sweep.
	PhaseStatusCompleted PhaseStatus = "COMPLETED"
)

// Phase is a bounded scoring window with a designated change-day.
type Phase struct {
	ID               string      `db:"id" json:"id"`
	Name             string      `db:"name" json:"name"`
	StartDate        time.Time   `db:"start_date" json:"start_date"`
	EndDate          time.Time   `db:"end_date" json:"end_date"`
	ChangeDay        time.Time   `db:"change_day" json:"change_day"`
	IndividualTarget *int        `db:"individual_target" json:"individual_target,omitempty"`
	Status           PhaseStatus `db:"status" json:"status"`
	CreatedBy        string      `db:"created_by" json:"created_by"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// PhaseTarget is the per-tier squad point target for one phase.
type PhaseTarget struct {
	PhaseID      string    `db:"phase_id" json:"phase_id"`
	Tier         Tier      `db:"tier" json:"tier"`
	TargetPoints int       `db:"target_points" json:"target_points"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Window returns the inclusive scoring window of the phase.
func (p *Phase) Window() (start, end time.Time) {
	return p.StartDate, p.EndDate
}

// Expired reports whether the phase window elapsed relative to now.
func (p *Phase) Expired(now time.Time) bool {
	return now.After(p.EndDate)
}
