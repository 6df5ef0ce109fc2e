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

// JoinRequestRepository persists the two-phase join workflow. Creation and
// decision both run transactionally so standing checks hold at the moment
// the row changes, not just when the caller looked.
type JoinRequestRepository struct {
	db *sqlx.DB
}

// NewJoinRequestRepository constructs the repository.
func NewJoinRequestRepository(db *sqlx.DB) *JoinRequestRepository {
	return &JoinRequestRepository{db: db}
}

const joinRequestColumns = `id, student_id, squad_id, status, message, decided_by, decision_reason, requested_at, decided_at`

// FindByID loads a join request by identifier.
func (r *JoinRequestRepository) FindByID(ctx context.Context, id string) (*models.JoinRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM join_requests WHERE id = $1`, joinRequestColumns)
	var request models.JoinRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns join requests matching the filter, newest first.
func (r *JoinRequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.JoinRequest, int, error) {
	base, args := buildRequestFilter("join_requests", filter)

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY requested_at DESC LIMIT %d OFFSET %d",
		joinRequestColumns, base, size, (page-1)*size)

	var requests []models.JoinRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list join requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count join requests: %w", err)
	}
	return requests, total, nil
}

// Create inserts a PENDING join request after verifying, under the student
// row lock, that the student has no active membership and no other pending
// join request, and that the target squad accepts applications.
func (r *JoinRequestRepository) Create(ctx context.Context, request *models.JoinRequest) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin join request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var studentID string
	if err = tx.GetContext(ctx, &studentID, `SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`, request.StudentID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return err
	}

	var active int
	if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`, request.StudentID); err != nil {
		return fmt.Errorf("check active membership: %w", err)
	}
	if active > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "student already has an active squad membership")
		return err
	}

	var pending int
	if err = tx.GetContext(ctx, &pending, `SELECT COUNT(*) FROM join_requests WHERE student_id = $1 AND status = 'PENDING'`, request.StudentID); err != nil {
		return fmt.Errorf("check pending join request: %w", err)
	}
	if pending > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "student already has a pending join request")
		return err
	}

	var squadStatus models.SquadStatus
	if err = tx.GetContext(ctx, &squadStatus, `SELECT status FROM squads WHERE id = $1`, request.SquadID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return err
	}
	if squadStatus == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return err
	}

	request.ID = uuid.NewString()
	request.Status = models.RequestStatusPending
	request.RequestedAt = time.Now().UTC()

	const insertQuery = `INSERT INTO join_requests (id, student_id, squad_id, status, message, requested_at)
VALUES (:id, :student_id, :squad_id, :status, :message, :requested_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, request); err != nil {
		return fmt.Errorf("insert join request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit join request tx: %w", err)
	}
	return nil
}

// DecideJoinParams carries the inputs for deciding a join request.
type DecideJoinParams struct {
	RequestID string
	Approve   bool
	DeciderID string
	Reason    string
	Policy    models.OperationalPolicy
	Now       time.Time
}

// Decide resolves a PENDING join request. Approval revalidates every join
// precondition under lock and creates the membership in the same
// transaction; a request decided concurrently yields Conflict.
func (r *JoinRequestRepository) Decide(ctx context.Context, params DecideJoinParams) (request *models.JoinRequest, membership *models.Membership, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin decide tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request = &models.JoinRequest{}
	lockQuery := fmt.Sprintf(`SELECT %s FROM join_requests WHERE id = $1 FOR UPDATE`, joinRequestColumns)
	if err = tx.GetContext(ctx, request, lockQuery, params.RequestID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "join request not found")
		}
		return nil, nil, err
	}
	if request.Status != models.RequestStatusPending {
		err = appErrors.Clone(appErrors.ErrConflict, "join request has already been decided")
		return nil, nil, err
	}

	now := params.Now.UTC()
	status := models.RequestStatusRejected

	if params.Approve {
		status = models.RequestStatusApproved

		// Re-check the student under lock: membership state may have
		// changed since the request was filed.
		if err = lockStudentRow(ctx, tx, request.StudentID); err != nil {
			return nil, nil, err
		}
		var active int
		if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`, request.StudentID); err != nil {
			return nil, nil, fmt.Errorf("check active membership: %w", err)
		}
		if active > 0 {
			err = appErrors.Clone(appErrors.ErrConflict, "student already has an active squad membership")
			return nil, nil, err
		}

		var deadline sql.NullTime
		const deadlineQuery = `SELECT rejoin_deadline FROM memberships
WHERE student_id = $1 AND status = 'LEFT' AND rejoin_deadline IS NOT NULL
ORDER BY leave_date DESC LIMIT 1`
		if err = tx.GetContext(ctx, &deadline, deadlineQuery, request.StudentID); err != nil && err != sql.ErrNoRows {
			return nil, nil, fmt.Errorf("check rejoin deadline: %w", err)
		}
		err = nil
		if deadline.Valid && now.Before(deadline.Time) {
			err = appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("student may not rejoin before %s", deadline.Time.Format(time.RFC3339)))
			return nil, nil, err
		}

		var squad *models.Squad
		squad, err = lockSquad(ctx, tx, request.SquadID)
		if err != nil {
			if err == sql.ErrNoRows {
				err = appErrors.Clone(appErrors.ErrNotFound, "squad not found")
			}
			return nil, nil, err
		}
		if squad.Status == models.SquadStatusFrozen {
			err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
			return nil, nil, err
		}

		var count int
		count, err = countActiveMembers(ctx, tx, squad.ID)
		if err != nil {
			return nil, nil, err
		}
		if count >= params.Policy.MaxSquadMembers {
			err = appErrors.Clone(appErrors.ErrConflict, "squad is at maximum capacity")
			return nil, nil, err
		}

		membership = &models.Membership{
			ID:        uuid.NewString(),
			StudentID: request.StudentID,
			SquadID:   request.SquadID,
			Role:      models.RoleMember,
			Status:    models.MembershipStatusActive,
			JoinDate:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		const memberQuery = `INSERT INTO memberships (id, student_id, squad_id, role, status, join_date, created_at, updated_at)
VALUES (:id, :student_id, :squad_id, :role, :status, :join_date, :created_at, :updated_at)`
		if _, err = tx.NamedExecContext(ctx, memberQuery, membership); err != nil {
			return nil, nil, fmt.Errorf("insert membership: %w", err)
		}

		if err = recomputeSquadStatus(ctx, tx, squad, params.Policy.Activation()); err != nil {
			return nil, nil, err
		}
	}

	const decideQuery = `UPDATE join_requests
SET status = $2, decided_by = $3, decision_reason = $4, decided_at = $5
WHERE id = $1 AND status = 'PENDING'`
	var result sql.Result
	if result, err = tx.ExecContext(ctx, decideQuery, request.ID, status, params.DeciderID, params.Reason, now); err != nil {
		return nil, nil, fmt.Errorf("decide join request: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "join request has already been decided")
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

// lockStudentRow row-locks an active student, mapping absence to NotFound.
func lockStudentRow(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`, studentID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return fmt.Errorf("lock student: %w", err)
	}
	return nil
}
