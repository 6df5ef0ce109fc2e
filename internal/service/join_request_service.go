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

type joinRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.JoinRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.JoinRequest, int, error)
	Create(ctx context.Context, request *models.JoinRequest) error
	Decide(ctx context.Context, params repository.DecideJoinParams) (*models.JoinRequest, *models.Membership, error)
}

type joinRequestStudentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type joinRequestPolicyProvider interface {
	Snapshot(ctx context.Context) (models.OperationalPolicy, error)
}

type joinRequestAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// JoinRequestService runs the two-phase join workflow: students file
// requests, admins decide them. Standing checks are revalidated at decision
// time by the repository.
type JoinRequestService struct {
	requests  joinRequestRepository
	students  joinRequestStudentReader
	policy    joinRequestPolicyProvider
	audit     joinRequestAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewJoinRequestService constructs a JoinRequestService.
func NewJoinRequestService(requests joinRequestRepository, students joinRequestStudentReader, policy joinRequestPolicyProvider, audit joinRequestAuditLogger, validate *validator.Validate, logger *zap.Logger) *JoinRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinRequestService{
		requests:  requests,
		students:  students,
		policy:    policy,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create files a join request for the acting student.
func (s *JoinRequestService) Create(ctx context.Context, req dto.CreateJoinRequestPayload, actor *models.JWTClaims) (*models.JoinRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join request payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student record linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	request := &models.JoinRequest{
		StudentID: student.ID,
		SquadID:   req.SquadID,
		Message:   req.Message,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionJoinRequestCreate, request)
	return request, nil
}

// Decide approves or rejects a pending join request. Admin only.
func (s *JoinRequestService) Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.JoinRequest, *models.Membership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, nil, appErrors.ErrForbidden
	}

	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	request, membership, err := s.requests.Decide(ctx, repository.DecideJoinParams{
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

	s.emitAudit(ctx, actor, models.AuditActionJoinRequestDecide, request)
	return request, membership, nil
}

// List returns join requests visible to the actor. Students only see their
// own requests.
func (s *JoinRequestService) List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.JoinRequest, int, error) {
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
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list join requests")
	}
	return requests, total, nil
}

// Get returns one join request, restricted to its owner for students.
func (s *JoinRequestService) Get(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.JoinRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "join request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load join request")
	}
	if !actor.Role.IsAdmin() {
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil || student.ID != request.StudentID {
			return nil, appErrors.ErrForbidden
		}
	}
	return request, nil
}

func (s *JoinRequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, request *models.JoinRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(request)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "join_request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "join-request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record join request audit", zap.Error(err))
	}
}
