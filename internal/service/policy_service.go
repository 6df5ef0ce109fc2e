package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

const policySnapshotCacheKey = "policy:snapshot"

type policyConfigRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	BulkUpsert(ctx context.Context, cfgs []models.Configuration) error
}

type policyCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type policyAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

var policyKeys = []string{
	models.PolicyKeyMinSquadMembers,
	models.PolicyKeyMaxSquadMembers,
	models.PolicyKeyRequireLeadership,
	models.PolicyKeyEnforceChangeDayForLeave,
	models.PolicyKeyIncubationDurationDays,
}

var policyKeyTypes = map[string]models.ConfigurationType{
	models.PolicyKeyMinSquadMembers:          models.ConfigurationTypeInteger,
	models.PolicyKeyMaxSquadMembers:          models.ConfigurationTypeInteger,
	models.PolicyKeyRequireLeadership:        models.ConfigurationTypeBoolean,
	models.PolicyKeyEnforceChangeDayForLeave: models.ConfigurationTypeBoolean,
	models.PolicyKeyIncubationDurationDays:   models.ConfigurationTypeInteger,
}

var policyKeyDescriptions = map[string]string{
	models.PolicyKeyMinSquadMembers:          "Minimum active members required for squad activation",
	models.PolicyKeyMaxSquadMembers:          "Maximum active members a squad may hold",
	models.PolicyKeyRequireLeadership:        "Whether all leadership roles must be filled for activation",
	models.PolicyKeyEnforceChangeDayForLeave: "Whether voluntary leaves are restricted to the phase change-day",
	models.PolicyKeyIncubationDurationDays:   "Working days a departed student must wait before rejoining",
}

// PolicyServiceConfig tunes runtime behaviour.
type PolicyServiceConfig struct {
	CacheTTL time.Duration
}

// PolicyService serves the operational policy snapshot consumed by every
// capacity, activation, and leave decision. Values live in the
// configurations table with compiled-in defaults; the assembled snapshot is
// cached in Redis until the next update.
type PolicyService struct {
	repo      policyConfigRepository
	cache     policyCache
	audit     policyAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewPolicyService constructs a PolicyService.
func NewPolicyService(repo policyConfigRepository, cache policyCache, audit policyAuditLogger, validate *validator.Validate, logger *zap.Logger, cfg PolicyServiceConfig) *PolicyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PolicyService{
		repo:      repo,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cacheTTL:  ttl,
	}
}

// Snapshot returns the current operational policy, serving from cache when
// possible.
func (s *PolicyService) Snapshot(ctx context.Context) (models.OperationalPolicy, error) {
	if s.cache != nil {
		var cached models.OperationalPolicy
		if err := s.cache.Get(ctx, policySnapshotCacheKey, &cached); err == nil {
			return cached, nil
		} else if err != appErrors.ErrCacheMiss {
			s.logger.Warn("policy cache read failed", zap.Error(err))
		}
	}

	policy, err := s.load(ctx)
	if err != nil {
		return models.OperationalPolicy{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, policySnapshotCacheKey, policy, s.cacheTTL); err != nil {
			s.logger.Warn("policy cache write failed", zap.Error(err))
		}
	}
	return policy, nil
}

// Update adjusts the provided policy fields, persists them, and invalidates
// the cached snapshot.
func (s *PolicyService) Update(ctx context.Context, req dto.UpdatePolicyRequest, actor *models.JWTClaims) (models.OperationalPolicy, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.OperationalPolicy{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload")
	}
	if actor == nil {
		return models.OperationalPolicy{}, appErrors.ErrUnauthorized
	}

	current, err := s.load(ctx)
	if err != nil {
		return models.OperationalPolicy{}, err
	}
	next := current

	if req.MinSquadMembers != nil {
		next.MinSquadMembers = *req.MinSquadMembers
	}
	if req.MaxSquadMembers != nil {
		next.MaxSquadMembers = *req.MaxSquadMembers
	}
	if req.RequireLeadership != nil {
		next.RequireLeadership = *req.RequireLeadership
	}
	if req.EnforceChangeDayForLeave != nil {
		next.EnforceChangeDayForLeave = *req.EnforceChangeDayForLeave
	}
	if req.IncubationDurationDays != nil {
		next.IncubationDurationDays = *req.IncubationDurationDays
	}

	if next.MinSquadMembers > next.MaxSquadMembers {
		return models.OperationalPolicy{}, appErrors.Clone(appErrors.ErrValidation, "minimum squad size cannot exceed maximum")
	}

	cfgs := []models.Configuration{
		s.entry(models.PolicyKeyMinSquadMembers, strconv.Itoa(next.MinSquadMembers), actor),
		s.entry(models.PolicyKeyMaxSquadMembers, strconv.Itoa(next.MaxSquadMembers), actor),
		s.entry(models.PolicyKeyRequireLeadership, strconv.FormatBool(next.RequireLeadership), actor),
		s.entry(models.PolicyKeyEnforceChangeDayForLeave, strconv.FormatBool(next.EnforceChangeDayForLeave), actor),
		s.entry(models.PolicyKeyIncubationDurationDays, strconv.Itoa(next.IncubationDurationDays), actor),
	}
	if err := s.repo.BulkUpsert(ctx, cfgs); err != nil {
		return models.OperationalPolicy{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update policy")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, policySnapshotCacheKey); err != nil {
			s.logger.Warn("policy cache invalidation failed", zap.Error(err))
		}
	}

	s.emitAudit(ctx, actor, current, next)
	return next, nil
}

func (s *PolicyService) load(ctx context.Context) (models.OperationalPolicy, error) {
	rows, err := s.repo.ListByKeys(ctx, policyKeys)
	if err != nil {
		return models.OperationalPolicy{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load policy")
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	policy := models.DefaultOperationalPolicy()
	policy.MinSquadMembers = s.intValue(values, models.PolicyKeyMinSquadMembers, policy.MinSquadMembers)
	policy.MaxSquadMembers = s.intValue(values, models.PolicyKeyMaxSquadMembers, policy.MaxSquadMembers)
	policy.RequireLeadership = s.boolValue(values, models.PolicyKeyRequireLeadership, policy.RequireLeadership)
	policy.EnforceChangeDayForLeave = s.boolValue(values, models.PolicyKeyEnforceChangeDayForLeave, policy.EnforceChangeDayForLeave)
	policy.IncubationDurationDays = s.intValue(values, models.PolicyKeyIncubationDurationDays, policy.IncubationDurationDays)
	return policy, nil
}

func (s *PolicyService) intValue(values map[string]string, key string, fallback int) int {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		s.logger.Warn("ignoring malformed policy value", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return parsed
}

func (s *PolicyService) boolValue(values map[string]string, key string, fallback bool) bool {
	raw, ok := values[key]
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed policy value", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return parsed
}

func (s *PolicyService) entry(key, value string, actor *models.JWTClaims) models.Configuration {
	description := policyKeyDescriptions[key]
	return models.Configuration{
		Key:         key,
		Value:       value,
		Type:        policyKeyTypes[key],
		Description: strPtr(description),
		UpdatedBy:   userIDPtr(actor),
	}
}

func (s *PolicyService) emitAudit(ctx context.Context, actor *models.JWTClaims, previous, next models.OperationalPolicy) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(previous)
	newBytes, _ := json.Marshal(next)
	resource := "policy"
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionPolicyUpdate,
		Resource:   resource,
		ResourceID: &resource,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "policy-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record policy audit", zap.Error(err))
	}
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	return &actor.UserID
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	result := value
	return &result
}
