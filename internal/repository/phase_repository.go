package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

// PhaseRepository persists scoring phases and their per-tier targets.
// Creating a phase displaces any currently ACTIVE phase in the same
// transaction so at most one phase is ever ACTIVE.
type PhaseRepository struct {
	db *sqlx.DB
}

// NewPhaseRepository constructs the repository.
func NewPhaseRepository(db *sqlx.DB) *PhaseRepository {
	return &PhaseRepository{db: db}
}

const phaseColumns = `id, name, start_date, end_date, change_day, individual_target, status, created_by, created_at, updated_at`

// FindByID loads a phase by identifier.
func (r *PhaseRepository) FindByID(ctx context.Context, id string) (*models.Phase, error) {
	query := fmt.Sprintf(`SELECT %s FROM phases WHERE id = $1`, phaseColumns)
	var phase models.Phase
	if err := r.db.GetContext(ctx, &phase, query, id); err != nil {
		return nil, err
	}
	return &phase, nil
}

// FindActive returns the single ACTIVE phase. sql.ErrNoRows when none is open.
func (r *PhaseRepository) FindActive(ctx context.Context) (*models.Phase, error) {
	query := fmt.Sprintf(`SELECT %s FROM phases WHERE status = 'ACTIVE' LIMIT 1`, phaseColumns)
	var phase models.Phase
	if err := r.db.GetContext(ctx, &phase, query); err != nil {
		return nil, err
	}
	return &phase, nil
}

// List returns phases newest first.
func (r *PhaseRepository) List(ctx context.Context, page, size int) ([]models.Phase, int, error) {
	page, size = normalizePage(page, size)
	query := fmt.Sprintf("SELECT %s FROM phases ORDER BY start_date DESC LIMIT %d OFFSET %d",
		phaseColumns, size, (page-1)*size)

	var phases []models.Phase
	if err := r.db.SelectContext(ctx, &phases, query); err != nil {
		return nil, 0, fmt.Errorf("list phases: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM phases"); err != nil {
		return nil, 0, fmt.Errorf("count phases: %w", err)
	}
	return phases, total, nil
}

// Create inserts a new ACTIVE phase with its tier targets, displacing any
// phase that is still ACTIVE.
func (r *PhaseRepository) Create(ctx context.Context, phase *models.Phase, targets []models.PhaseTarget) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin phase tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE phases SET status = 'INACTIVE', updated_at = $1 WHERE status = 'ACTIVE'`, now); err != nil {
		return fmt.Errorf("displace active phase: %w", err)
	}

	if phase.ID == "" {
		phase.ID = uuid.NewString()
	}
	phase.Status = models.PhaseStatusActive
	phase.CreatedAt = now
	phase.UpdatedAt = now

	const insertQuery = `INSERT INTO phases (id, name, start_date, end_date, change_day, individual_target, status, created_by, created_at, updated_at)
VALUES (:id, :name, :start_date, :end_date, :change_day, :individual_target, :status, :created_by, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, phase); err != nil {
		return fmt.Errorf("insert phase: %w", err)
	}

	const targetQuery = `INSERT INTO phase_targets (phase_id, tier, target_points, updated_at)
VALUES ($1, $2, $3, $4)`
	for i := range targets {
		targets[i].PhaseID = phase.ID
		targets[i].UpdatedAt = now
		if _, err = tx.ExecContext(ctx, targetQuery, phase.ID, targets[i].Tier, targets[i].TargetPoints, now); err != nil {
			return fmt.Errorf("insert phase target %s: %w", targets[i].Tier, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit phase tx: %w", err)
	}
	return nil
}

// GetTargets returns the per-tier targets of a phase keyed by tier.
func (r *PhaseRepository) GetTargets(ctx context.Context, phaseID string) (map[models.Tier]int, error) {
	const query = `SELECT phase_id, tier, target_points, updated_at FROM phase_targets WHERE phase_id = $1`
	var rows []models.PhaseTarget
	if err := r.db.SelectContext(ctx, &rows, query, phaseID); err != nil {
		return nil, fmt.Errorf("load phase targets: %w", err)
	}
	targets := make(map[models.Tier]int, len(rows))
	for _, row := range rows {
		targets[row.Tier] = row.TargetPoints
	}
	return targets, nil
}

// UpdateTargets replaces the tier targets of a phase that is still open.
func (r *PhaseRepository) UpdateTargets(ctx context.Context, phaseID string, targets []models.PhaseTarget) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin targets tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.PhaseStatus
	if err = tx.GetContext(ctx, &status, `SELECT status FROM phases WHERE id = $1 FOR UPDATE`, phaseID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return err
	}
	if status == models.PhaseStatusCompleted {
		err = appErrors.Clone(appErrors.ErrConflict, "phase has been finalized")
		return err
	}

	now := time.Now().UTC()
	const upsertQuery = `INSERT INTO phase_targets (phase_id, tier, target_points, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (phase_id, tier) DO UPDATE SET target_points = EXCLUDED.target_points, updated_at = EXCLUDED.updated_at`
	for _, target := range targets {
		if _, err = tx.ExecContext(ctx, upsertQuery, phaseID, target.Tier, target.TargetPoints, now); err != nil {
			return fmt.Errorf("upsert phase target %s: %w", target.Tier, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit targets tx: %w", err)
	}
	return nil
}

// ListExpiredActive returns ACTIVE phases whose window has already elapsed.
func (r *PhaseRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Phase, error) {
	query := fmt.Sprintf(`SELECT %s FROM phases WHERE status = 'ACTIVE' AND end_date < $1`, phaseColumns)
	var phases []models.Phase
	if err := r.db.SelectContext(ctx, &phases, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("list expired phases: %w", err)
	}
	return phases, nil
}

// MarkCompleted closes an ACTIVE phase. Returns sql.ErrNoRows when the
// phase was already finalized by a concurrent sweep, which callers treat as
// success for idempotency.
func (r *PhaseRepository) MarkCompleted(ctx context.Context, phaseID string) error {
	const query = `UPDATE phases SET status = 'COMPLETED', updated_at = $2 WHERE id = $1 AND status = 'ACTIVE'`
	result, err := r.db.ExecContext(ctx, query, phaseID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark phase completed: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindLatestCompletedBefore returns the most recent COMPLETED phase whose
// window ended before the given instant. Used as the look-back phase for
// demotion decisions.
func (r *PhaseRepository) FindLatestCompletedBefore(ctx context.Context, before time.Time) (*models.Phase, error) {
	query := fmt.Sprintf(`SELECT %s FROM phases WHERE status = 'COMPLETED' AND end_date < $1 ORDER BY end_date DESC LIMIT 1`, phaseColumns)
	var phase models.Phase
	if err := r.db.GetContext(ctx, &phase, query, before.UTC()); err != nil {
		return nil, err
	}
	return &phase, nil
}
