package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-squad-api/internal/models"
)

// EligibilityRepository stores recomputed eligibility snapshots. Snapshots
// are keyed by (phase, subject) and upserted in place so re-evaluation
// always reflects the latest ledger state.
type EligibilityRepository struct {
	db *sqlx.DB
}

// NewEligibilityRepository constructs the repository.
func NewEligibilityRepository(db *sqlx.DB) *EligibilityRepository {
	return &EligibilityRepository{db: db}
}

// ReplaceForPhase upserts both snapshot sets of a phase in one transaction.
func (r *EligibilityRepository) ReplaceForPhase(ctx context.Context, phaseID string, individuals []models.IndividualEligibility, squads []models.SquadEligibility) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin eligibility tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	const individualQuery = `INSERT INTO individual_eligibility (phase_id, student_id, points, is_eligible, reason_code, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (phase_id, student_id) DO UPDATE
SET points = EXCLUDED.points, is_eligible = EXCLUDED.is_eligible, reason_code = EXCLUDED.reason_code, evaluated_at = EXCLUDED.evaluated_at`
	for _, row := range individuals {
		if _, err = tx.ExecContext(ctx, individualQuery, phaseID, row.StudentID, row.Points, row.IsEligible, row.ReasonCode, now); err != nil {
			return fmt.Errorf("upsert individual eligibility: %w", err)
		}
	}

	const squadQuery = `INSERT INTO squad_eligibility (phase_id, squad_id, tier, points, is_eligible, reason_code, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (phase_id, squad_id) DO UPDATE
SET tier = EXCLUDED.tier, points = EXCLUDED.points, is_eligible = EXCLUDED.is_eligible, reason_code = EXCLUDED.reason_code, evaluated_at = EXCLUDED.evaluated_at`
	for _, row := range squads {
		if _, err = tx.ExecContext(ctx, squadQuery, phaseID, row.SquadID, row.Tier, row.Points, row.IsEligible, row.ReasonCode, now); err != nil {
			return fmt.Errorf("upsert squad eligibility: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit eligibility tx: %w", err)
	}
	return nil
}

// ListIndividuals returns the individual snapshots of a phase.
func (r *EligibilityRepository) ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error) {
	const query = `SELECT phase_id, student_id, points, is_eligible, reason_code, evaluated_at
FROM individual_eligibility WHERE phase_id = $1 ORDER BY points DESC, student_id ASC`
	var rows []models.IndividualEligibility
	if err := r.db.SelectContext(ctx, &rows, query, phaseID); err != nil {
		return nil, fmt.Errorf("list individual eligibility: %w", err)
	}
	return rows, nil
}

// ListSquads returns the squad snapshots of a phase.
func (r *EligibilityRepository) ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error) {
	const query = `SELECT phase_id, squad_id, tier, points, is_eligible, reason_code, evaluated_at
FROM squad_eligibility WHERE phase_id = $1 ORDER BY points DESC, squad_id ASC`
	var rows []models.SquadEligibility
	if err := r.db.SelectContext(ctx, &rows, query, phaseID); err != nil {
		return nil, fmt.Errorf("list squad eligibility: %w", err)
	}
	return rows, nil
}

// FindSquad returns a squad's snapshot for a phase. sql.ErrNoRows when the
// squad was not evaluated.
func (r *EligibilityRepository) FindSquad(ctx context.Context, phaseID, squadID string) (*models.SquadEligibility, error) {
	const query = `SELECT phase_id, squad_id, tier, points, is_eligible, reason_code, evaluated_at
FROM squad_eligibility WHERE phase_id = $1 AND squad_id = $2`
	var row models.SquadEligibility
	if err := r.db.GetContext(ctx, &row, query, phaseID, squadID); err != nil {
		return nil, err
	}
	return &row, nil
}

// FindIndividual returns a student's snapshot for a phase.
func (r *EligibilityRepository) FindIndividual(ctx context.Context, phaseID, studentID string) (*models.IndividualEligibility, error) {
	const query = `SELECT phase_id, student_id, points, is_eligible, reason_code, evaluated_at
FROM individual_eligibility WHERE phase_id = $1 AND student_id = $2`
	var row models.IndividualEligibility
	if err := r.db.GetContext(ctx, &row, query, phaseID, studentID); err != nil {
		return nil, err
	}
	return &row, nil
}
