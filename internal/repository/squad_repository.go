package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

// SquadRepository handles persistence for squads.
type SquadRepository struct {
	db *sqlx.DB
}

// NewSquadRepository constructs the repository.
func NewSquadRepository(db *sqlx.DB) *SquadRepository {
	return &SquadRepository{db: db}
}

// List returns squads matching provided filters with total count.
func (r *SquadRepository) List(ctx context.Context, filter models.SquadFilter) ([]models.Squad, int, error) {
	base := "FROM squads WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Tier != "" {
		conditions = append(conditions, fmt.Sprintf("tier = $%d", len(args)+1))
		args = append(args, filter.Tier)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"code":       true,
		"name":       true,
		"tier":       true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, code, name, tier, status, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)

	var squads []models.Squad
	if err := r.db.SelectContext(ctx, &squads, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list squads: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count squads: %w", err)
	}
	return squads, total, nil
}

// ListAll returns every squad ordered by code.
func (r *SquadRepository) ListAll(ctx context.Context) ([]models.Squad, error) {
	const query = `SELECT id, code, name, tier, status, created_at, updated_at FROM squads ORDER BY code ASC`
	var squads []models.Squad
	if err := r.db.SelectContext(ctx, &squads, query); err != nil {
		return nil, fmt.Errorf("list all squads: %w", err)
	}
	return squads, nil
}

// FindByID loads a squad by identifier.
func (r *SquadRepository) FindByID(ctx context.Context, id string) (*models.Squad, error) {
	const query = `SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1`
	var squad models.Squad
	if err := r.db.GetContext(ctx, &squad, query, id); err != nil {
		return nil, err
	}
	return &squad, nil
}

// ExistsByCode checks code uniqueness.
func (r *SquadRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	const query = `SELECT 1 FROM squads WHERE code = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check squad code: %w", err)
	}
	return true, nil
}

// Create inserts a new squad record.
func (r *SquadRepository) Create(ctx context.Context, squad *models.Squad) error {
	if squad.ID == "" {
		squad.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if squad.CreatedAt.IsZero() {
		squad.CreatedAt = now
	}
	squad.UpdatedAt = now

	const query = `INSERT INTO squads (id, code, name, tier, status, created_at, updated_at)
VALUES (:id, :code, :name, :tier, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, squad); err != nil {
		return fmt.Errorf("create squad: %w", err)
	}
	return nil
}

// Freeze places the squad under the administrative FROZEN override,
// suspending all membership, role, and tier mutation.
func (r *SquadRepository) Freeze(ctx context.Context, id string) (*models.Squad, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin freeze tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	squad, err := lockSquad(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if squad.Status == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is already frozen")
		return nil, err
	}

	const query = `UPDATE squads SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, id, models.SquadStatusFrozen, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("freeze squad: %w", err)
	}
	squad.Status = models.SquadStatusFrozen

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit freeze tx: %w", err)
	}
	return squad, nil
}

// Unfreeze lifts the FROZEN override and recomputes the derived status
// from the current composition.
func (r *SquadRepository) Unfreeze(ctx context.Context, id string, policy models.ActivationPolicy) (*models.Squad, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unfreeze tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	squad, err := lockSquad(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if squad.Status != models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is not frozen")
		return nil, err
	}

	// Drop the override first so the recompute is allowed to run.
	squad.Status = models.SquadStatusInactive
	const query = `UPDATE squads SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, id, squad.Status, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("unfreeze squad: %w", err)
	}
	if err = recomputeSquadStatus(ctx, tx, squad, policy); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unfreeze tx: %w", err)
	}
	return squad, nil
}
