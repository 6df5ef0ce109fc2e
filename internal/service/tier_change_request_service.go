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

type tierChangeRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.TierChangeRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.TierChangeRequest, int, error)
	Create(ctx context.Context, request *models.TierChangeRequest) error
	Decide(ctx context.Context, params repository.DecideTierChangeParams) (*models.TierChangeRequest, error)
}

type tierChangeRequestSquadReader interface {
	FindByID(ctx context.Context, id string) (*models.Squad, error)
}

type tierChangeRequestStudentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type tierChangeRequestMembershipReader interface {
	FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error)
}

type tierChangeRequestAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// TierChangeRequestService runs the manual tier-change workflow. A squad's
// captain (or an admin) asks for a move; the tier observed at filing time
// is checked again at approval, so a squad moved in between needs a fresh
// request.
type TierChangeRequestService struct {
	requests    tierChangeRequestRepository
	squads      tierChangeRequestSquadReader
	students    tierChangeRequestStudentReader
	memberships tierChangeRequestMembershipReader
	audit       tierChangeRequestAuditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewTierChangeRequestService constructs a TierChangeRequestService.
func NewTierChangeRequestService(requests tierChangeRequestRepository, squads tierChangeRequestSquadReader, students tierChangeRequestStudentReader, memberships tierChangeRequestMembershipReader, audit tierChangeRequestAuditLogger, validate *validator.Validate, logger *zap.Logger) *TierChangeRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierChangeRequestService{
		requests:    requests,
		squads:      squads,
		students:    students,
		memberships: memberships,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create files a tier-change request for a squad. The request type is
// derived from the tier ranks; asking for the current tier is rejected.
func (s *TierChangeRequestService) Create(ctx context.Context, req dto.CreateTierChangeRequestPayload, actor *models.JWTClaims) (*models.TierChangeRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid tier change payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	squad, err := s.squads.FindByID(ctx, req.SquadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load squad")
	}

	if !actor.Role.IsAdmin() {
		if err := s.requireCaptainOf(ctx, actor, squad.ID); err != nil {
			return nil, err
		}
	}

	toTier := models.Tier(req.ToTier)
	if toTier == squad.Tier {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target tier equals the current tier")
	}
	requestType := models.TierChangeDemotion
	if toTier.Rank() > squad.Tier.Rank() {
		requestType = models.TierChangePromotion
	}

	request := &models.TierChangeRequest{
		SquadID:     squad.ID,
		FromTier:    squad.Tier,
		ToTier:      toTier,
		Type:        requestType,
		Message:     req.Message,
		RequestedBy: actor.UserID,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionTierChangeRequestCreate, request)
	return request, nil
}

// Decide approves or rejects a pending tier-change request. Admin only.
func (s *TierChangeRequestService) Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.TierChangeRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	request, err := s.requests.Decide(ctx, repository.DecideTierChangeParams{
		RequestID: requestID,
		Approve:   req.Approve,
		DeciderID: actor.UserID,
		Reason:    req.Reason,
		Now:       s.now(),
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionTierChangeRequestDecide, request)
	return request, nil
}

// List returns tier-change requests matching the query. Admin only.
func (s *TierChangeRequestService) List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.TierChangeRequest, int, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request query")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, 0, appErrors.ErrForbidden
	}

	filter := models.RequestFilter{
		SquadID:  query.SquadID,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if query.Status != "" {
		filter.Status = []models.RequestStatus{models.RequestStatus(query.Status)}
	}

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tier change requests")
	}
	return requests, total, nil
}

// requireCaptainOf ensures the actor's student captains the given squad.
func (s *TierChangeRequestService) requireCaptainOf(ctx context.Context, actor *models.JWTClaims, squadID string) error {
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	membership, err := s.memberships.FindActiveByStudent(ctx, student.ID)
	if err != nil {
		return appErrors.ErrForbidden
	}
	if membership.SquadID != squadID || membership.Role != models.RoleCaptain {
		return appErrors.Clone(appErrors.ErrForbidden, "only the squad captain may request a tier change")
	}
	return nil
}

func (s *TierChangeRequestService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, request *models.TierChangeRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(request)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "tier_change_request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "tier-change-request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record tier change request audit", zap.Error(err))
	}
}
