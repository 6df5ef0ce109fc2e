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

// MembershipRepository owns membership rows and the transactional guards
// around squad composition: capacity, frozen squads, rejoin deadlines, and
// leadership-role uniqueness. Every mutation runs in one transaction that
// locks the contended rows before re-checking the invariant it depends on.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

const membershipColumns = `id, student_id, squad_id, role, status, join_date, leave_date, rejoin_deadline, created_at, updated_at`

// FindByID loads a membership by identifier.
func (r *MembershipRepository) FindByID(ctx context.Context, id string) (*models.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE id = $1`, membershipColumns)
	var membership models.Membership
	if err := r.db.GetContext(ctx, &membership, query, id); err != nil {
		return nil, err
	}
	return &membership, nil
}

// FindActiveByStudent returns the student's ACTIVE membership, if any.
func (r *MembershipRepository) FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE student_id = $1 AND status = 'ACTIVE' LIMIT 1`, membershipColumns)
	var membership models.Membership
	if err := r.db.GetContext(ctx, &membership, query, studentID); err != nil {
		return nil, err
	}
	return &membership, nil
}

// FindActiveByRole returns the ACTIVE holder of a role inside a squad, if any.
func (r *MembershipRepository) FindActiveByRole(ctx context.Context, squadID string, role models.MembershipRole) (*models.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE squad_id = $1 AND role = $2 AND status = 'ACTIVE' LIMIT 1`, membershipColumns)
	var membership models.Membership
	if err := r.db.GetContext(ctx, &membership, query, squadID, role); err != nil {
		return nil, err
	}
	return &membership, nil
}

// ListBySquad returns memberships of a squad with student context, active
// rows first.
func (r *MembershipRepository) ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error) {
	query := `SELECT m.id, m.student_id, m.squad_id, m.role, m.status, m.join_date, m.leave_date, m.rejoin_deadline,
       m.created_at, m.updated_at, s.full_name AS student_name, s.nis AS student_nis
FROM memberships m
JOIN students s ON s.id = m.student_id
WHERE m.squad_id = $1`
	if !includeLeft {
		query += ` AND m.status = 'ACTIVE'`
	}
	query += ` ORDER BY m.status ASC, m.join_date ASC`

	var members []models.MembershipDetail
	if err := r.db.SelectContext(ctx, &members, query, squadID); err != nil {
		return nil, fmt.Errorf("list squad members: %w", err)
	}
	return members, nil
}

// JoinParams carries inputs for a guarded join.
type JoinParams struct {
	StudentID        string
	SquadID          string
	Policy           models.OperationalPolicy
	BypassIncubation bool
	Now              time.Time
}

// Join inserts an ACTIVE membership after re-checking, under lock, that the
// student is unattached and outside any rejoin deadline, the squad is not
// frozen, and capacity allows one more member. Recomputes squad status on
// success.
func (r *MembershipRepository) Join(ctx context.Context, params JoinParams) (*models.Membership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin join tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock the student row first to serialise concurrent joins by the same
	// student across different squads.
	var studentID string
	if err = tx.GetContext(ctx, &studentID, `SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`, params.StudentID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, err
	}

	var existing int
	if err = tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`, params.StudentID); err != nil {
		return nil, fmt.Errorf("check active membership: %w", err)
	}
	if existing > 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "student already has an active squad membership")
		return nil, err
	}

	if !params.BypassIncubation {
		var deadline sql.NullTime
		const deadlineQuery = `SELECT rejoin_deadline FROM memberships
WHERE student_id = $1 AND status = 'LEFT' AND rejoin_deadline IS NOT NULL
ORDER BY leave_date DESC LIMIT 1`
		if err = tx.GetContext(ctx, &deadline, deadlineQuery, params.StudentID); err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("check rejoin deadline: %w", err)
		}
		err = nil
		if deadline.Valid && params.Now.Before(deadline.Time) {
			err = appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("student may not rejoin before %s", deadline.Time.Format(time.RFC3339)))
			return nil, err
		}
	}

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

	count, err := countActiveMembers(ctx, tx, squad.ID)
	if err != nil {
		return nil, err
	}
	if count >= params.Policy.MaxSquadMembers {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is at maximum capacity")
		return nil, err
	}

	now := params.Now.UTC()
	membership := &models.Membership{
		ID:        uuid.NewString(),
		StudentID: params.StudentID,
		SquadID:   params.SquadID,
		Role:      models.RoleMember,
		Status:    models.MembershipStatusActive,
		JoinDate:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const insertQuery = `INSERT INTO memberships (id, student_id, squad_id, role, status, join_date, created_at, updated_at)
VALUES (:id, :student_id, :squad_id, :role, :status, :join_date, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, membership); err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}

	if err = recomputeSquadStatus(ctx, tx, squad, params.Policy.Activation()); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit join tx: %w", err)
	}
	return membership, nil
}

// LeaveParams carries inputs for a guarded leave or removal.
type LeaveParams struct {
	MembershipID   string
	Policy         models.OperationalPolicy
	RejoinDeadline time.Time
	Now            time.Time
}

// Leave terminates an ACTIVE membership, records the rejoin deadline, and
// recomputes squad status. The change-day check is the caller's concern;
// this method enforces the row-state invariants only.
func (r *MembershipRepository) Leave(ctx context.Context, params LeaveParams) (*models.Membership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin leave tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	membership, err := lockMembership(ctx, tx, params.MembershipID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "membership not found")
		}
		return nil, err
	}
	if membership.Status != models.MembershipStatusActive {
		err = appErrors.Clone(appErrors.ErrConflict, "membership is not active")
		return nil, err
	}

	squad, err := lockSquad(ctx, tx, membership.SquadID)
	if err != nil {
		return nil, err
	}
	if squad.Status == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return nil, err
	}

	now := params.Now.UTC()
	deadline := params.RejoinDeadline.UTC()
	const updateQuery = `UPDATE memberships SET status = 'LEFT', leave_date = $2, rejoin_deadline = $3, updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, membership.ID, now, deadline); err != nil {
		return nil, fmt.Errorf("terminate membership: %w", err)
	}
	membership.Status = models.MembershipStatusLeft
	membership.LeaveDate = &now
	membership.RejoinDeadline = &deadline

	if err = recomputeSquadStatus(ctx, tx, squad, params.Policy.Activation()); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit leave tx: %w", err)
	}
	return membership, nil
}

// UpdateRoleParams carries inputs for a guarded role change.
type UpdateRoleParams struct {
	MembershipID string
	NewRole      models.MembershipRole
	Policy       models.OperationalPolicy
}

// UpdateRole changes a membership's role after verifying, under lock, that
// the membership is still ACTIVE, the squad is not frozen, and a requested
// leadership role has no other ACTIVE holder.
func (r *MembershipRepository) UpdateRole(ctx context.Context, params UpdateRoleParams) (*models.Membership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin role tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	membership, err := lockMembership(ctx, tx, params.MembershipID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "membership not found")
		}
		return nil, err
	}
	if membership.Status != models.MembershipStatusActive {
		err = appErrors.Clone(appErrors.ErrConflict, "membership is not active")
		return nil, err
	}

	squad, err := lockSquad(ctx, tx, membership.SquadID)
	if err != nil {
		return nil, err
	}
	if squad.Status == models.SquadStatusFrozen {
		err = appErrors.Clone(appErrors.ErrConflict, "squad is frozen")
		return nil, err
	}

	if params.NewRole.IsLeadership() {
		var holder string
		const holderQuery = `SELECT id FROM memberships
WHERE squad_id = $1 AND role = $2 AND status = 'ACTIVE' AND id <> $3 LIMIT 1 FOR UPDATE`
		if err = tx.GetContext(ctx, &holder, holderQuery, membership.SquadID, params.NewRole, membership.ID); err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("check role holder: %w", err)
		}
		if err == nil {
			err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("role %s is already held in this squad", params.NewRole))
			return nil, err
		}
		err = nil
	}

	const updateQuery = `UPDATE memberships SET role = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, membership.ID, params.NewRole, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("update membership role: %w", err)
	}
	membership.Role = params.NewRole

	// Leadership occupancy feeds activation, so re-derive squad status.
	if err = recomputeSquadStatus(ctx, tx, squad, params.Policy.Activation()); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit role tx: %w", err)
	}
	return membership, nil
}

// lockMembership loads and row-locks a membership.
func lockMembership(ctx context.Context, tx *sqlx.Tx, id string) (*models.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE id = $1 FOR UPDATE`, membershipColumns)
	var membership models.Membership
	if err := tx.GetContext(ctx, &membership, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock membership: %w", err)
	}
	return &membership, nil
}
