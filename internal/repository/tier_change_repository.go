package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

// TierChangeRepository applies and records automatic tier decisions. A
// unique (phase_id, squad_id) constraint backs the at-most-once guarantee;
// the recommendation itself is recomputed inside the transaction from the
// locked squad row and the stored eligibility snapshots.
type TierChangeRepository struct {
	db *sqlx.DB
}

// NewTierChangeRepository constructs the repository.
func NewTierChangeRepository(db *sqlx.DB) *TierChangeRepository {
	return &TierChangeRepository{db: db}
}

const tierChangeColumns = `id, phase_id, previous_phase_id, squad_id, current_tier, recommended_tier, action, rule_code, applied_by, applied_at`

// ApplyParams carries the inputs for applying a tier decision.
type ApplyParams struct {
	PhaseID         string
	PreviousPhaseID *string
	SquadID         string
	AppliedBy       string
	Now             time.Time
}

// Apply locks the squad, recomputes the recommendation from the snapshots
// on record, moves the squad when the action is PROMOTE or DEMOTE, and
// writes the immutable decision record. A second apply for the same
// (phase, squad) yields Conflict.
func (r *TierChangeRepository) Apply(ctx context.Context, params ApplyParams) (record *models.TierChangeRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tier change tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	squad, err := lockSquad(ctx, tx, params.SquadID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return nil, err
	}
	if squad.Status == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return nil, err
	}

	var applied int
	if err = tx.GetContext(ctx, &applied, `SELECT COUNT(*) FROM tier_changes WHERE phase_id = $1 AND squad_id = $2`, params.PhaseID, params.SquadID); err != nil {
		return nil, fmt.Errorf("check applied tier change: %w", err)
	}
	if applied > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "tier change already applied for this phase")
		return nil, err
	}

	eligibleNow, err := r.snapshotEligibility(ctx, tx, params.PhaseID, params.SquadID)
	if err != nil {
		return nil, err
	}
	var eligiblePrev *bool
	if params.PreviousPhaseID != nil {
		if eligiblePrev, err = r.snapshotEligibility(ctx, tx, *params.PreviousPhaseID, params.SquadID); err != nil {
			return nil, err
		}
	}

	action, target, ruleCode := models.RecommendTierChange(squad.Tier, eligibleNow, eligiblePrev)

	now := params.Now.UTC()
	if action != models.TierChangeSame {
		if _, err = tx.ExecContext(ctx, `UPDATE squads SET tier = $2, updated_at = $3 WHERE id = $1`, squad.ID, target, now); err != nil {
			return nil, fmt.Errorf("move squad tier: %w", err)
		}
	}

	record = &models.TierChangeRecord{
		ID:              uuid.NewString(),
		PhaseID:         params.PhaseID,
		PreviousPhaseID: params.PreviousPhaseID,
		SquadID:         params.SquadID,
		CurrentTier:     squad.Tier,
		RecommendedTier: target,
		Action:          action,
		RuleCode:        ruleCode,
		AppliedBy:       params.AppliedBy,
		AppliedAt:       now,
	}
	const insertQuery = `INSERT INTO tier_changes (id, phase_id, previous_phase_id, squad_id, current_tier, recommended_tier, action, rule_code, applied_by, applied_at)
VALUES (:id, :phase_id, :previous_phase_id, :squad_id, :current_tier, :recommended_tier, :action, :rule_code, :applied_by, :applied_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, record); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			err = appErrors.Clone(appErrors.ErrConflict, "tier change already applied for this phase")
		} else {
			err = fmt.Errorf("insert tier change: %w", err)
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tier change tx: %w", err)
	}
	return record, nil
}

// snapshotEligibility reads a squad's eligibility flag for a phase under
// the caller's transaction. nil means the squad was never evaluated.
func (r *TierChangeRepository) snapshotEligibility(ctx context.Context, tx *sqlx.Tx, phaseID, squadID string) (*bool, error) {
	var eligible bool
	const query = `SELECT is_eligible FROM squad_eligibility WHERE phase_id = $1 AND squad_id = $2`
	if err := tx.GetContext(ctx, &eligible, query, phaseID, squadID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load eligibility snapshot: %w", err)
	}
	return &eligible, nil
}

// ListByPhase returns the decision records of a phase.
func (r *TierChangeRepository) ListByPhase(ctx context.Context, phaseID string) ([]models.TierChangeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM tier_changes WHERE phase_id = $1 ORDER BY applied_at ASC, squad_id ASC`, tierChangeColumns)
	var records []models.TierChangeRecord
	if err := r.db.SelectContext(ctx, &records, query, phaseID); err != nil {
		return nil, fmt.Errorf("list tier changes: %w", err)
	}
	return records, nil
}

// FindByPhaseAndSquad returns the decision record for one squad in a phase.
func (r *TierChangeRepository) FindByPhaseAndSquad(ctx context.Context, phaseID, squadID string) (*models.TierChangeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM tier_changes WHERE phase_id = $1 AND squad_id = $2`, tierChangeColumns)
	var record models.TierChangeRecord
	if err := r.db.GetContext(ctx, &record, query, phaseID, squadID); err != nil {
		return nil, err
	}
	return &record, nil
}
