package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/workdays"
)

const currentPhaseCacheKey = "phase:current"

type phaseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Phase, error)
	FindActive(ctx context.Context) (*models.Phase, error)
	List(ctx context.Context, page, size int) ([]models.Phase, int, error)
	Create(ctx context.Context, phase *models.Phase, targets []models.PhaseTarget) error
	GetTargets(ctx context.Context, phaseID string) (map[models.Tier]int, error)
	UpdateTargets(ctx context.Context, phaseID string, targets []models.PhaseTarget) error
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Phase, error)
	MarkCompleted(ctx context.Context, phaseID string) error
}

type phaseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type phaseEvaluator interface {
	EvaluatePhase(ctx context.Context, phaseID string, actor *models.JWTClaims) error
}

type phaseAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PhaseServiceConfig tunes runtime behaviour.
type PhaseServiceConfig struct {
	CurrentCacheTTL time.Duration
}

// PhaseService manages the scoring phase lifecycle. Phase windows are
// expressed in working days over the holiday calendar; opening a phase
// displaces the previous ACTIVE one, and the finalization sweep closes
// expired phases exactly once.
type PhaseService struct {
	phases    phaseRepository
	cache     phaseCache
	evaluator phaseEvaluator
	audit     phaseAuditLogger
	calendar  *workdays.Calendar
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
	now       func() time.Time

	finalizing atomic.Bool
}

// NewPhaseService constructs a PhaseService.
func NewPhaseService(phases phaseRepository, cache phaseCache, audit phaseAuditLogger, calendar *workdays.Calendar, validate *validator.Validate, logger *zap.Logger, cfg PhaseServiceConfig) *PhaseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CurrentCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PhaseService{
		phases:    phases,
		cache:     cache,
		audit:     audit,
		calendar:  calendar,
		validator: validate,
		logger:    logger,
		cacheTTL:  ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetEvaluator wires the eligibility evaluator invoked when a phase closes.
// Set after construction to break the phase/eligibility dependency cycle.
func (s *PhaseService) SetEvaluator(evaluator phaseEvaluator) {
	s.evaluator = evaluator
}

// Create opens a new scoring phase. The window end and the change-day are
// derived by walking working days forward from the start date; the targets
// must cover every tier exactly once.
func (s *PhaseService) Create(ctx context.Context, req dto.CreatePhaseRequest, actor *models.JWTClaims) (*models.Phase, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid phase payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	if req.ChangeDayIndex > req.WorkingDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, "change-day index exceeds the phase length")
	}

	targets, err := parsePhaseTargets(req.Targets, true)
	if err != nil {
		return nil, err
	}

	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start date must be YYYY-MM-DD")
	}

	end, changeDay, err := s.calendar.WalkWorkingDays(start, req.WorkingDays, req.ChangeDayIndex)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	// The window closes at the end of its final working day.
	end = end.Add(24*time.Hour - time.Nanosecond)

	phase := &models.Phase{
		Name:             req.Name,
		StartDate:        start,
		EndDate:          end,
		ChangeDay:        changeDay,
		IndividualTarget: req.IndividualTarget,
		CreatedBy:        actor.UserID,
	}
	if err := s.phases.Create(ctx, phase, targets); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create phase")
	}

	s.invalidateCurrent(ctx)
	s.emitAudit(ctx, actor, models.AuditActionPhaseCreate, phase.ID, nil, phase)
	return phase, nil
}

// Current returns the ACTIVE phase, closing it first when its window has
// already elapsed.
func (s *PhaseService) Current(ctx context.Context) (*models.Phase, error) {
	if s.cache != nil {
		var cached models.Phase
		if err := s.cache.Get(ctx, currentPhaseCacheKey, &cached); err == nil {
			if !cached.Expired(s.now()) {
				return &cached, nil
			}
		} else if err != appErrors.ErrCacheMiss {
			s.logger.Warn("phase cache read failed", zap.Error(err))
		}
	}

	phase, err := s.phases.FindActive(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active phase")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active phase")
	}

	if phase.Expired(s.now()) {
		// Opportunistic sweep so reads never serve a stale ACTIVE phase.
		s.FinalizeExpired(ctx)
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active phase")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, currentPhaseCacheKey, phase, s.cacheTTL); err != nil {
			s.logger.Warn("phase cache write failed", zap.Error(err))
		}
	}
	return phase, nil
}

// Get returns a phase with its tier targets.
func (s *PhaseService) Get(ctx context.Context, id string) (*models.Phase, map[models.Tier]int, error) {
	phase, err := s.phases.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase")
	}
	targets, err := s.phases.GetTargets(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase targets")
	}
	return phase, targets, nil
}

// List returns phases newest first.
func (s *PhaseService) List(ctx context.Context, page, size int) ([]models.Phase, int, error) {
	phases, total, err := s.phases.List(ctx, page, size)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list phases")
	}
	return phases, total, nil
}

// UpdateTargets replaces tier targets of an open phase.
func (s *PhaseService) UpdateTargets(ctx context.Context, phaseID string, req dto.UpdatePhaseTargetsRequest, actor *models.JWTClaims) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid targets payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return appErrors.ErrForbidden
	}
	targets, err := parsePhaseTargets(req.Targets, false)
	if err != nil {
		return err
	}
	if err := s.phases.UpdateTargets(ctx, phaseID, targets); err != nil {
		return appErrors.FromError(err)
	}
	s.emitAudit(ctx, actor, models.AuditActionPhaseTargets, phaseID, nil, targets)
	return nil
}

// IsChangeDay reports whether now falls on the active phase's change-day.
// No active phase means no change-day.
func (s *PhaseService) IsChangeDay(ctx context.Context, now time.Time) (bool, error) {
	phase, err := s.Current(ctx)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return false, nil
		}
		return false, err
	}
	y1, m1, d1 := phase.ChangeDay.Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2, nil
}

// FinalizeExpired closes every ACTIVE phase whose window has elapsed and
// records the final eligibility snapshots. Concurrent calls collapse into
// one sweep; each phase is finalized at most once.
func (s *PhaseService) FinalizeExpired(ctx context.Context) {
	if !s.finalizing.CompareAndSwap(false, true) {
		return
	}
	defer s.finalizing.Store(false)

	expired, err := s.phases.ListExpiredActive(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to list expired phases", zap.Error(err))
		return
	}
	for _, phase := range expired {
		// Snapshot eligibility before claiming the phase. If evaluation
		// fails the phase stays ACTIVE and the next sweep retries it;
		// evaluation is idempotent, so a racing duplicate is harmless.
		if s.evaluator != nil {
			if err := s.evaluator.EvaluatePhase(ctx, phase.ID, nil); err != nil {
				s.logger.Error("failed to snapshot eligibility at finalization", zap.String("phase_id", phase.ID), zap.Error(err))
				continue
			}
		}

		if err := s.phases.MarkCompleted(ctx, phase.ID); err != nil {
			if err == sql.ErrNoRows {
				// Another sweep already claimed this phase.
				continue
			}
			s.logger.Error("failed to finalize phase", zap.String("phase_id", phase.ID), zap.Error(err))
			continue
		}

		s.invalidateCurrent(ctx)
		s.emitAudit(ctx, nil, models.AuditActionPhaseFinalize, phase.ID, phase, nil)
		s.logger.Info("phase finalized", zap.String("phase_id", phase.ID), zap.String("name", phase.Name))
	}
}

func (s *PhaseService) invalidateCurrent(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, currentPhaseCacheKey); err != nil {
		s.logger.Warn("phase cache invalidation failed", zap.Error(err))
	}
}

// parsePhaseTargets validates the tier set of a targets payload. When
// complete is true every tier must appear exactly once.
func parsePhaseTargets(items []dto.PhaseTargetItem, complete bool) ([]models.PhaseTarget, error) {
	seen := make(map[models.Tier]bool, len(items))
	targets := make([]models.PhaseTarget, 0, len(items))
	for _, item := range items {
		tier := models.Tier(item.Tier)
		if !tier.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported tier in targets")
		}
		if seen[tier] {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate tier in targets")
		}
		seen[tier] = true
		targets = append(targets, models.PhaseTarget{Tier: tier, TargetPoints: item.TargetPoints})
	}
	if complete && len(seen) != len(models.AllTiers) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targets must cover every tier")
	}
	return targets, nil
}

func (s *PhaseService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, resourceID string, oldValue, newValue interface{}) {
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
		Resource:   "phase",
		ResourceID: &resourceID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "phase-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record phase audit", zap.Error(err))
	}
}
