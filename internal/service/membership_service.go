package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/repository"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/workdays"
)

type membershipRepository interface {
	FindByID(ctx context.Context, id string) (*models.Membership, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error)
	ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error)
	Join(ctx context.Context, params repository.JoinParams) (*models.Membership, error)
	Leave(ctx context.Context, params repository.LeaveParams) (*models.Membership, error)
	UpdateRole(ctx context.Context, params repository.UpdateRoleParams) (*models.Membership, error)
}

type membershipStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type membershipPolicyProvider interface {
	Snapshot(ctx context.Context) (models.OperationalPolicy, error)
}

type membershipChangeDayChecker interface {
	IsChangeDay(ctx context.Context, now time.Time) (bool, error)
}

type membershipAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// MembershipService orchestrates the membership state machine: joins,
// voluntary leaves, administrative removals, and role changes. Row-level
// invariants live in the repository; this layer adds actor authorization,
// change-day enforcement, and rejoin-deadline computation.
type MembershipService struct {
	memberships membershipRepository
	students    membershipStudentReader
	policy      membershipPolicyProvider
	phases      membershipChangeDayChecker
	calendar    *workdays.Calendar
	audit       membershipAuditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewMembershipService constructs a MembershipService.
func NewMembershipService(memberships membershipRepository, students membershipStudentReader, policy membershipPolicyProvider, phases membershipChangeDayChecker, calendar *workdays.Calendar, audit membershipAuditLogger, validate *validator.Validate, logger *zap.Logger) *MembershipService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipService{
		memberships: memberships,
		students:    students,
		policy:      policy,
		phases:      phases,
		calendar:    calendar,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListBySquad returns the membership roster of a squad.
func (s *MembershipService) ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error) {
	members, err := s.memberships.ListBySquad(ctx, squadID, includeLeft)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squad members")
	}
	return members, nil
}

// FindActiveByStudent returns a student's current membership.
func (s *MembershipService) FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error) {
	membership, err := s.memberships.FindActiveByStudent(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no active membership")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	return membership, nil
}

// Join attaches a student to a squad directly, bypassing the request
// workflow. Admin only. The payload may waive the rejoin incubation window.
func (s *MembershipService) Join(ctx context.Context, req dto.JoinSquadRequest, actor *models.JWTClaims) (*models.Membership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	membership, err := s.memberships.Join(ctx, repository.JoinParams{
		StudentID:        req.StudentID,
		SquadID:          req.SquadID,
		Policy:           policy,
		BypassIncubation: req.BypassIncubation,
		Now:              s.now(),
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionMembershipJoin, membership.ID, nil, membership)
	return membership, nil
}

// Leave terminates the actor's own membership. Unless policy disables it,
// voluntary leaves are only accepted on the active phase's change-day. The
// departing student may not rejoin before the end of the next working day.
func (s *MembershipService) Leave(ctx context.Context, membershipID string, actor *models.JWTClaims) (*models.Membership, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	membership, err := s.requireMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() {
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil || student.ID != membership.StudentID {
			return nil, appErrors.ErrForbidden
		}
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if policy.EnforceChangeDayForLeave {
		changeDay, err := s.phases.IsChangeDay(ctx, now)
		if err != nil {
			return nil, err
		}
		if !changeDay {
			return nil, appErrors.Clone(appErrors.ErrConflict, "voluntary leaves are only accepted on the phase change-day")
		}
	}

	left, err := s.memberships.Leave(ctx, repository.LeaveParams{
		MembershipID:   membershipID,
		Policy:         policy,
		RejoinDeadline: s.rejoinDeadline(now, policy.IncubationDurationDays),
		Now:            now,
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionMembershipLeave, left.ID, membership, left)
	return left, nil
}

// Remove terminates a membership administratively. Bypasses the change-day
// restriction but still starts the rejoin incubation clock.
func (s *MembershipService) Remove(ctx context.Context, membershipID string, req dto.RemoveMemberRequest, actor *models.JWTClaims) (*models.Membership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid removal payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	membership, err := s.requireMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	removed, err := s.memberships.Leave(ctx, repository.LeaveParams{
		MembershipID:   membershipID,
		Policy:         policy,
		RejoinDeadline: s.rejoinDeadline(now, policy.IncubationDurationDays),
		Now:            now,
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAuditWithReason(ctx, actor, models.AuditActionMembershipRemove, removed.ID, membership, removed, req.Reason)
	return removed, nil
}

// UpdateRole changes a member's role directly. Admins may change any role;
// the squad's active captain may assign the non-captain roles within their
// own squad. Approved role requests land here through the repository, not
// this method.
func (s *MembershipService) UpdateRole(ctx context.Context, membershipID string, req dto.UpdateRoleRequest, actor *models.JWTClaims) (*models.Membership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	role := models.MembershipRole(req.Role)
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported membership role")
	}

	previous, err := s.requireMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() {
		if err := s.requireCaptainOf(ctx, actor, previous.SquadID, role); err != nil {
			return nil, err
		}
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.memberships.UpdateRole(ctx, repository.UpdateRoleParams{
		MembershipID: membershipID,
		NewRole:      role,
		Policy:       policy,
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionMembershipRole, updated.ID, previous, updated)
	return updated, nil
}

// requireCaptainOf verifies the actor is the active captain of the given
// squad. Captain assignments stay admin-only.
func (s *MembershipService) requireCaptainOf(ctx context.Context, actor *models.JWTClaims, squadID string, newRole models.MembershipRole) error {
	if newRole == models.RoleCaptain {
		return appErrors.Clone(appErrors.ErrForbidden, "the captain role may only be assigned by an admin")
	}
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	own, err := s.memberships.FindActiveByStudent(ctx, student.ID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	if own.SquadID != squadID || own.Role != models.RoleCaptain {
		return appErrors.ErrForbidden
	}
	return nil
}

// rejoinDeadline returns the end of the last incubation working day.
func (s *MembershipService) rejoinDeadline(from time.Time, workingDays int) time.Time {
	if workingDays < 1 {
		workingDays = 1
	}
	day := from
	for i := 0; i < workingDays; i++ {
		day = s.calendar.NextWorkingDay(day)
	}
	return day.Add(24*time.Hour - time.Nanosecond)
}

func (s *MembershipService) requireMembership(ctx context.Context, id string) (*models.Membership, error) {
	membership, err := s.memberships.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "membership not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	return membership, nil
}

func (s *MembershipService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, oldValue, newValue interface{}) {
	s.emitAuditWithReason(ctx, actor, action, resourceID, oldValue, newValue, "")
}

func (s *MembershipService) emitAuditWithReason(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, oldValue, newValue interface{}, reason string) {
	if s.audit == nil {
		return
	}
	var oldBytes, newBytes []byte
	if oldValue != nil {
		oldBytes, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		payload := map[string]interface{}{"value": newValue}
		if reason != "" {
			payload["reason"] = reason
		}
		newBytes, _ = json.Marshal(payload)
	}
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "membership",
		ResourceID: &resourceID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "membership-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record membership audit", zap.Error(err))
	}
}
