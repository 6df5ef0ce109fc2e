package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type squadRepository interface {
	List(ctx context.Context, filter models.SquadFilter) ([]models.Squad, int, error)
	FindByID(ctx context.Context, id string) (*models.Squad, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, squad *models.Squad) error
	Freeze(ctx context.Context, id string) (*models.Squad, error)
	Unfreeze(ctx context.Context, id string, policy models.ActivationPolicy) (*models.Squad, error)
}

type squadMembershipReader interface {
	ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error)
}

type squadPolicyProvider interface {
	Snapshot(ctx context.Context) (models.OperationalPolicy, error)
}

type squadAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SquadService orchestrates squad lifecycle: registration, the FROZEN
// administrative override, and read access. New squads start INACTIVE and
// only membership mutations move them to ACTIVE.
type SquadService struct {
	squads      squadRepository
	memberships squadMembershipReader
	policy      squadPolicyProvider
	audit       squadAuditLogger
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSquadService constructs a SquadService.
func NewSquadService(squads squadRepository, memberships squadMembershipReader, policy squadPolicyProvider, audit squadAuditLogger, validate *validator.Validate, logger *zap.Logger) *SquadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SquadService{
		squads:      squads,
		memberships: memberships,
		policy:      policy,
		audit:       audit,
		validator:   validate,
		logger:      logger,
	}
}

// List returns squads matching the query.
func (s *SquadService) List(ctx context.Context, query dto.SquadListQuery) ([]models.Squad, int, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid squad query")
	}
	squads, total, err := s.squads.List(ctx, models.SquadFilter{
		Tier:      models.Tier(query.Tier),
		Status:    models.SquadStatus(query.Status),
		Search:    query.Search,
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squads")
	}
	return squads, total, nil
}

// Get returns a squad with its roster summary.
func (s *SquadService) Get(ctx context.Context, id string) (*dto.SquadDetail, []models.MembershipDetail, error) {
	squad, err := s.requireSquad(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.memberships.ListBySquad(ctx, id, false)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squad members")
	}
	detail := &dto.SquadDetail{
		ID:            squad.ID,
		Code:          squad.Code,
		Name:          squad.Name,
		Tier:          string(squad.Tier),
		Status:        string(squad.Status),
		ActiveMembers: len(members),
	}
	return detail, members, nil
}

// Create registers a new squad in INACTIVE status.
func (s *SquadService) Create(ctx context.Context, req dto.CreateSquadRequest, actor *models.JWTClaims) (*models.Squad, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid squad payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	exists, err := s.squads.ExistsByCode(ctx, req.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check squad code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "squad code already in use")
	}

	squad := &models.Squad{
		Code:   req.Code,
		Name:   req.Name,
		Tier:   models.Tier(req.Tier),
		Status: models.SquadStatusInactive,
	}
	if err := s.squads.Create(ctx, squad); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create squad")
	}

	s.emitAudit(ctx, actor, models.AuditActionSquadCreate, squad.ID, nil, squad)
	return squad, nil
}

// Freeze places a squad under the administrative FROZEN override.
func (s *SquadService) Freeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	previous, err := s.requireSquad(ctx, id)
	if err != nil {
		return nil, err
	}
	squad, err := s.squads.Freeze(ctx, id)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	s.emitAudit(ctx, actor, models.AuditActionSquadFreeze, id, previous, squad)
	return squad, nil
}

// Unfreeze lifts the override; the squad's status is re-derived from its
// current composition.
func (s *SquadService) Unfreeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	previous, err := s.requireSquad(ctx, id)
	if err != nil {
		return nil, err
	}
	policy, err := s.policy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	squad, err := s.squads.Unfreeze(ctx, id, policy.Activation())
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	s.emitAudit(ctx, actor, models.AuditActionSquadUnfreeze, id, previous, squad)
	return squad, nil
}

func (s *SquadService) requireSquad(ctx context.Context, id string) (*models.Squad, error) {
	squad, err := s.squads.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load squad")
	}
	return squad, nil
}

func (s *SquadService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	var oldBytes, newBytes []byte
	if oldValue != nil {
		oldBytes, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		newBytes, _ = json.Marshal(newValue)
	}
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "squad",
		ResourceID: &resourceID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "squad-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record squad audit", zap.Error(err))
	}
}
