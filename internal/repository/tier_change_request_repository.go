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

// TierChangeRequestRepository persists manual tier-change requests. The
// recorded from_tier acts as an optimistic guard: if the squad's tier moved
// between filing and approval the request can no longer be applied.
type TierChangeRequestRepository struct {
	db *sqlx.DB
}

// NewTierChangeRequestRepository constructs the repository.
func NewTierChangeRequestRepository(db *sqlx.DB) *TierChangeRequestRepository {
	return &TierChangeRequestRepository{db: db}
}

const tierChangeRequestColumns = `id, squad_id, from_tier, to_tier, type, status, message, requested_by, decided_by, decision_reason, requested_at, decided_at`

// FindByID loads a tier-change request by identifier.
func (r *TierChangeRequestRepository) FindByID(ctx context.Context, id string) (*models.TierChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM tier_change_requests WHERE id = $1`, tierChangeRequestColumns)
	var request models.TierChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns tier-change requests matching the filter, newest first.
func (r *TierChangeRequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.TierChangeRequest, int, error) {
	filter.StudentID = "" // tier-change requests are squad scoped
	base, args := buildRequestFilter("tier_change_requests", filter)

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY requested_at DESC LIMIT %d OFFSET %d",
		tierChangeRequestColumns, base, size, (page-1)*size)

	var requests []models.TierChangeRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list tier change requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count tier change requests: %w", err)
	}
	return requests, total, nil
}

// Create inserts a PENDING tier-change request. The squad is locked so the
// captured from_tier matches the row state and the pending-uniqueness check
// cannot race a concurrent filing.
func (r *TierChangeRequestRepository) Create(ctx context.Context, request *models.TierChangeRequest) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tier request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	squad, err := lockSquad(ctx, tx, request.SquadID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return err
	}
	if squad.Status == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return err
	}
	if squad.Tier != request.FromTier {
		err = appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("squad is in tier %s, not %s; submit a new request", squad.Tier, request.FromTier))
		return err
	}

	var pending int
	if err = tx.GetContext(ctx, &pending, `SELECT COUNT(*) FROM tier_change_requests WHERE squad_id = $1 AND status = 'PENDING'`, request.SquadID); err != nil {
		return fmt.Errorf("check pending tier request: %w", err)
	}
	if pending > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "squad already has a pending tier change request")
		return err
	}

	request.ID = uuid.NewString()
	request.Status = models.RequestStatusPending
	request.RequestedAt = time.Now().UTC()

	const insertQuery = `INSERT INTO tier_change_requests (id, squad_id, from_tier, to_tier, type, status, message, requested_by, requested_at)
VALUES (:id, :squad_id, :from_tier, :to_tier, :type, :status, :message, :requested_by, :requested_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, request); err != nil {
		return fmt.Errorf("insert tier change request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tier request tx: %w", err)
	}
	return nil
}

// DecideTierChangeParams carries the inputs for deciding a tier-change request.
type DecideTierChangeParams struct {
	RequestID string
	Approve   bool
	DeciderID string
	Reason    string
	Now       time.Time
}

// Decide resolves a PENDING tier-change request. Approval locks the squad,
// verifies its tier still equals the recorded from_tier, and moves it to
// to_tier in the same transaction.
func (r *TierChangeRequestRepository) Decide(ctx context.Context, params DecideTierChangeParams) (request *models.TierChangeRequest, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decide tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request = &models.TierChangeRequest{}
	lockQuery := fmt.Sprintf(`SELECT %s FROM tier_change_requests WHERE id = $1 FOR UPDATE`, tierChangeRequestColumns)
	if err = tx.GetContext(ctx, request, lockQuery, params.RequestID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "tier change request not found")
		}
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		err = appErrors.Clone(appErrors.ErrConflict, "tier change request has already been decided")
		return nil, err
	}

	now := params.Now.UTC()
	status := models.RequestStatusRejected

	if params.Approve {
		status = models.RequestStatusApproved

		var squad *models.Squad
		squad, err = lockSquad(ctx, tx, request.SquadID)
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
		if squad.Tier != request.FromTier {
			err = appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("squad tier changed to %s since the request was filed; submit a new request", squad.Tier))
			return nil, err
		}

		if _, err = tx.ExecContext(ctx, `UPDATE squads SET tier = $2, updated_at = $3 WHERE id = $1`, squad.ID, request.ToTier, now); err != nil {
			return nil, fmt.Errorf("move squad tier: %w", err)
		}
	}

	const decideQuery = `UPDATE tier_change_requests
SET status = $2, decided_by = $3, decision_reason = $4, decided_at = $5
WHERE id = $1 AND status = 'PENDING'`
	var result sql.Result
	if result, err = tx.ExecContext(ctx, decideQuery, request.ID, status, params.DeciderID, params.Reason, now); err != nil {
		return nil, fmt.Errorf("decide tier change request: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "tier change request has already been decided")
		return nil, err
	}
	request.Status = status
	request.DecidedBy = &params.DeciderID
	request.DecisionReason = &params.Reason
	request.DecidedAt = &now

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decide tx: %w", err)
	}
	return request, nil
}
