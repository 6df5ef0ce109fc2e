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

// RoleRequestRepository persists the leadership-role request workflow.
// Pending uniqueness is enforced both per membership and per (squad, role)
// so two members cannot race for the same vacant seat.
type RoleRequestRepository struct {
	db *sqlx.DB
}

// NewRoleRequestRepository constructs the repository.
func NewRoleRequestRepository(db *sqlx.DB) *RoleRequestRepository {
	return &RoleRequestRepository{db: db}
}

const roleRequestColumns = `id, membership_id, student_id, squad_id, role, status, message, decided_by, decision_reason, requested_at, decided_at`

// FindByID loads a role request by identifier.
func (r *RoleRequestRepository) FindByID(ctx context.Context, id string) (*models.RoleRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_requests WHERE id = $1`, roleRequestColumns)
	var request models.RoleRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns role requests matching the filter, newest first.
func (r *RoleRequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RoleRequest, int, error) {
	base, args := buildRequestFilter("role_requests", filter)

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY requested_at DESC LIMIT %d OFFSET %d",
		roleRequestColumns, base, size, (page-1)*size)

	var requests []models.RoleRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list role requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count role requests: %w", err)
	}
	return requests, total, nil
}

// Create inserts a PENDING role request after verifying, under the
// membership row lock, that the membership is an active plain member, the
// squad is not frozen, the role seat is vacant, and no competing pending
// request exists.
func (r *RoleRequestRepository) Create(ctx context.Context, request *models.RoleRequest) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin role request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	membership, err := lockMembership(ctx, tx, request.MembershipID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "membership not found")
		}
		return err
	}
	if membership.Status != models.MembershipStatusActive {
		err = appErrors.Clone(appErrors.ErrConflict, "membership is not active")
		return err
	}
	if membership.Role != models.RoleMember {
		err = appErrors.Clone(appErrors.ErrConflict, "member already holds a leadership role")
		return err
	}

	var squadStatus models.SquadStatus
	if err = tx.GetContext(ctx, &squadStatus, `SELECT status FROM squads WHERE id = $1`, membership.SquadID); err != nil {
		return fmt.Errorf("load squad status: %w", err)
	}
	if squadStatus == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return err
	}

	var holder int
	if err = tx.GetContext(ctx, &holder, `SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND role = $2 AND status = 'ACTIVE'`, membership.SquadID, request.Role); err != nil {
		return fmt.Errorf("check role holder: %w", err)
	}
	if holder > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("role %s is already held in this squad", request.Role))
		return err
	}

	var pending int
	const pendingQuery = `SELECT COUNT(*) FROM role_requests
WHERE status = 'PENDING' AND (membership_id = $1 OR (squad_id = $2 AND role = $3))`
	if err = tx.GetContext(ctx, &pending, pendingQuery, membership.ID, membership.SquadID, request.Role); err != nil {
		return fmt.Errorf("check pending role request: %w", err)
	}
	if pending > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "a pending role request already exists for this member or role")
		return err
	}

	request.ID = uuid.NewString()
	request.StudentID = membership.StudentID
	request.SquadID = membership.SquadID
	request.Status = models.RequestStatusPending
	request.RequestedAt = time.Now().UTC()

	const insertQuery = `INSERT INTO role_requests (id, membership_id, student_id, squad_id, role, status, message, requested_at)
VALUES (:id, :membership_id, :student_id, :squad_id, :role, :status, :message, :requested_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, request); err != nil {
		return fmt.Errorf("insert role request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit role request tx: %w", err)
	}
	return nil
}

// DecideRoleParams carries the inputs for deciding a role request.
type DecideRoleParams struct {
	RequestID string
	Approve   bool
	DeciderID string
	Reason    string
	Policy    models.OperationalPolicy
	Now       time.Time
}

// Decide resolves a PENDING role request. Approval re-checks the membership
// and seat vacancy under lock, promotes the member, and re-derives the
// squad's activation status in the same transaction.
func (r *RoleRequestRepository) Decide(ctx context.Context, params DecideRoleParams) (request *models.RoleRequest, membership *models.Membership, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin decide tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request = &models.RoleRequest{}
	lockQuery := fmt.Sprintf(`SELECT %s FROM role_requests WHERE id = $1 FOR UPDATE`, roleRequestColumns)
	if err = tx.GetContext(ctx, request, lockQuery, params.RequestID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "role request not found")
		}
		return nil, nil, err
	}
	if request.Status != models.RequestStatusPending {
		err = appErrors.Clone(appErrors.ErrConflict, "role request has already been decided")
		return nil, nil, err
	}

	now := params.Now.UTC()
	status := models.RequestStatusRejected

	if params.Approve {
		status = models.RequestStatusApproved

		membership, err = lockMembership(ctx, tx, request.MembershipID)
		if err != nil {
			if err == sql.ErrNoRows {
				err = appErrors.Clone(appErrors.ErrNotFound, "membership not found")
			}
			return nil, nil, err
		}
		if membership.Status != models.MembershipStatusActive {
			err = appErrors.Clone(appErrors.ErrConflict, "membership is no longer active")
			return nil, nil, err
		}
		if membership.Role != models.RoleMember {
			err = appErrors.Clone(appErrors.ErrConflict, "membership role has changed since the request was filed")
			return nil, nil, err
		}

		var squad *models.Squad
		squad, err = lockSquad(ctx, tx, membership.SquadID)
		if err != nil {
			return nil, nil, err
		}
		if squad.Status == models.SquadStatusFrozen {
			err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
			return nil, nil, err
		}

		var holder int
		if err = tx.GetContext(ctx, &holder, `SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND role = $2 AND status = 'ACTIVE'`, membership.SquadID, request.Role); err != nil {
			return nil, nil, fmt.Errorf("check role holder: %w", err)
		}
		if holder > 0 {
			err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("role %s is already held in this squad", request.Role))
			return nil, nil, err
		}

		if _, err = tx.ExecContext(ctx, `UPDATE memberships SET role = $2, updated_at = $3 WHERE id = $1`, membership.ID, request.Role, now); err != nil {
			return nil, nil, fmt.Errorf("update membership role: %w", err)
		}
		membership.Role = request.Role

		if err = recomputeSquadStatus(ctx, tx, squad, params.Policy.Activation()); err != nil {
			return nil, nil, err
		}
	}

	const decideQuery = `UPDATE role_requests
SET status = $2, decided_by = $3, decision_reason = $4, decided_at = $5
WHERE id = $1 AND status = 'PENDING'`
	var result sql.Result
	if result, err = tx.ExecContext(ctx, decideQuery, request.ID, status, params.DeciderID, params.Reason, now); err != nil {
		return nil, nil, fmt.Errorf("decide role request: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "role request has already been decided")
		return nil, nil, err
	}
	request.Status = status
	request.DecidedBy = &params.DeciderID
	request.DecisionReason = &params.Reason
	request.DecidedAt = &now

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit decide tx: %w", err)
	}
	return request, membership, nil
}
