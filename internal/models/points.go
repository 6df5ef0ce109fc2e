package models

import "time"

// PointsEntry is an append-only points ledger record for a student.
type PointsEntry struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	ActivityDate time.Time `db:"activity_date" json:"activity_date"`
	Points       int       `db:"points" json:"points"`
	Reason       string    `db:"reason" json:"reason"`
	AwardedBy    string    `db:"awarded_by" json:"awarded_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// StudentPointTotal is the maintained running total per student.
type StudentPointTotal struct {
	StudentID string    `db:"student_id" json:"student_id"`
	Total     int       `db:"total" json:"total"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentWindowPoints is a per-student point sum inside a phase window.
type StudentWindowPoints struct {
	StudentID string `db:"student_id" json:"student_id"`
	Points    int    `db:"points" json:"points"`
}

// SquadWindowPoints is a per-squad aggregate of active-member points
// inside a phase window.
type SquadWindowPoints struct {
	SquadID string `db:"squad_id" json:"squad_id"`
	Points  int    `db:"points" json:"points"`
}
