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
)

type roleRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.RoleRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RoleRequest, int, error)
	Create(ctx context.Context, request *models.RoleRequest) error
	Decide(ctx context.Context, params repository.DecideRoleParams) (*models.RoleRequest, *models.Membership, error)
}

type roleRequestStudentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type roleRequestMembershipReader interface {
	FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error)
}

type roleRequestPolicyProvider interface {
	Snapshot(ctx context.Context) (models.OperationalPolicy, error)
}

type roleRequestAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RoleRequestService runs the leadership-role request workflow. A plain
// member applies for a vacant seat in their own squad; the squad's captain
// or an admin decides, and seat vacancy is re-checked under lock at
// approval.
type RoleRequestService struct {
	requests    roleRequestRepository
	students    roleRequestStudentReader
	memberships roleRequestMembershipReader
	policy      roleRequestPolicyProvider
	audit       roleRequestAuditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewRoleRequestService constructs a RoleRequestService.
func NewRoleRequestService(requests roleRequestRepository, students roleRequestStudentReader, memberships roleRequestMembershipReader, policy roleRequestPolicyProvider, audit roleRequestAuditLogger, validate *validator.Validate, logger *zap.Logger) *RoleRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleRequestService{
		requests:    requests,
		students:    students,
		memberships: memberships,
		policy:      policy,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create files a role request for the acting student's own membership.
func (s *RoleRequestService) Create(ctx context.Context, req dto.CreateRoleRequestPayload, actor *models.JWTClaims) (*models.RoleRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role request payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	role := models.MembershipRole(req.Role)
	if !role.IsLeadership() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "role requests are limited to leadership roles")
	}

	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student record linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	membership, err := s.memberships.FindActiveByStudent(ctx, student.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student has no active squad membership")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	if membership.Role != models.RoleMember {
		return nil, appErrors.Clone(appErrors.ErrConflict, "member already holds a leadership role")
	}

	request := &models.RoleRequest{
		MembershipID: membership.ID,
		Role:         role,
		Message:      req.Message,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionRoleRequestCreate, request)
	return request, nil
}

// Decide approves or rejects a pending role request. Admins may decide any
// request; the squad's active captain may decide requests for the other
// leadership seats.
func (s *RoleRequestService) Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.RoleRequest, *models.Membership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsAdmin() {
		pending, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "role request not found")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role request")
		}
		if err := s.requireCaptainDecider(ctx, actor, pending); err != nil {
			return nil, nil, err
		}
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	request, membership, err := s.requests.Decide(ctx, repository.DecideRoleParams{
		RequestID: requestID,
		Approve:   req.Approve,
		DeciderID: actor.UserID,
		Reason:    req.Reason,
		Policy:    policy,
		Now:       s.now(),
	})
	if err != nil {
		return nil, nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionRoleRequestDecide, request)
	return request, membership, nil
}

// List returns role requests visible to the actor.
func (s *RoleRequestService) List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.RoleRequest, int, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request query")
	}
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}

	filter := models.RequestFilter{
		SquadID:   query.SquadID,
		StudentID: query.StudentID,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if query.Status != "" {
		filter.Status = []models.RequestStatus{models.RequestStatus(query.Status)}
	}
	if !actor.Role.IsAdmin() {
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			return nil, 0, appErrors.ErrForbidden
		}
		filter.StudentID = student.ID
	}

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list role requests")
	}
	return requests, total, nil
}

// requireCaptainDecider lets a squad's active captain decide requests for
// the non-captain leadership seats of their own squad. Captain seats stay
// admin-only.
func (s *RoleRequestService) requireCaptainDecider(ctx context.Context, actor *models.JWTClaims, request *models.RoleRequest) error {
	if request.Role == models.RoleCaptain {
		return appErrors.Clone(appErrors.ErrForbidden, "captain requests may only be decided by an admin")
	}
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	own, err := s.memberships.FindActiveByStudent(ctx, student.ID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	if own.SquadID != request.SquadID || own.Role != models.RoleCaptain {
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *RoleRequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, request *models.RoleRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(request)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "role_request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "role-request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record role request audit", zap.Error(err))
	}
}
