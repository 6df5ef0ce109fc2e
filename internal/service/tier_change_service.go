package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/repository"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type tierChangeRepositoryIface interface {
	Apply(ctx context.Context, params repository.ApplyParams) (*models.TierChangeRecord, error)
	ListByPhase(ctx context.Context, phaseID string) ([]models.TierChangeRecord, error)
	FindByPhaseAndSquad(ctx context.Context, phaseID, squadID string) (*models.TierChangeRecord, error)
}

type tierChangePhaseReader interface {
	FindByID(ctx context.Context, id string) (*models.Phase, error)
	FindLatestCompletedBefore(ctx context.Context, before time.Time) (*models.Phase, error)
}

type tierChangeSnapshotReader interface {
	FindSquad(ctx context.Context, phaseID, squadID string) (*models.SquadEligibility, error)
}

type tierChangeSquadReader interface {
	FindByID(ctx context.Context, id string) (*models.Squad, error)
	ListAll(ctx context.Context) ([]models.Squad, error)
}

type tierChangeAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// TierChangeService drives the automatic promotion and demotion engine.
// Decisions follow a fixed rule table over the last two phase snapshots and
// are applied at most once per phase and squad.
type TierChangeService struct {
	changes   tierChangeRepositoryIface
	phases    tierChangePhaseReader
	snapshots tierChangeSnapshotReader
	squads    tierChangeSquadReader
	audit     tierChangeAuditLogger
	logger    *zap.Logger
	now       func() time.Time
}

// NewTierChangeService constructs a TierChangeService.
func NewTierChangeService(changes tierChangeRepositoryIface, phases tierChangePhaseReader, snapshots tierChangeSnapshotReader, squads tierChangeSquadReader, audit tierChangeAuditLogger, logger *zap.Logger) *TierChangeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierChangeService{
		changes:   changes,
		phases:    phases,
		snapshots: snapshots,
		squads:    squads,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Preview computes the recommendation for one squad without applying it.
func (s *TierChangeService) Preview(ctx context.Context, phaseID, squadID string) (*dto.TierChangePreview, error) {
	phase, previous, err := s.requireCompletedPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}

	squad, err := s.squads.FindByID(ctx, squadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "squad not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load squad")
	}

	eligibleNow, err := s.snapshotFlag(ctx, phase.ID, squadID)
	if err != nil {
		return nil, err
	}
	var eligiblePrev *bool
	if previous != nil {
		if eligiblePrev, err = s.snapshotFlag(ctx, previous.ID, squadID); err != nil {
			return nil, err
		}
	}

	action, target, ruleCode := models.RecommendTierChange(squad.Tier, eligibleNow, eligiblePrev)
	return &dto.TierChangePreview{
		SquadID:         squadID,
		CurrentTier:     string(squad.Tier),
		RecommendedTier: string(target),
		Action:          string(action),
		RuleCode:        ruleCode,
		EligibleNow:     eligibleNow,
		EligiblePrev:    eligiblePrev,
	}, nil
}

// Apply executes the tier decision for one squad. Admin only; a repeated
// apply for the same phase and squad yields Conflict.
func (s *TierChangeService) Apply(ctx context.Context, phaseID, squadID string, actor *models.JWTClaims) (*models.TierChangeRecord, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	phase, previous, err := s.requireCompletedPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}

	var previousID *string
	if previous != nil {
		previousID = &previous.ID
	}
	record, err := s.changes.Apply(ctx, repository.ApplyParams{
		PhaseID:         phase.ID,
		PreviousPhaseID: previousID,
		SquadID:         squadID,
		AppliedBy:       actor.UserID,
		Now:             s.now(),
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, record)
	return record, nil
}

// ApplyAll executes the tier decision for every squad in one pass. Frozen
// squads and squads already decided for this phase are skipped.
func (s *TierChangeService) ApplyAll(ctx context.Context, phaseID string, actor *models.JWTClaims) (*dto.TierChangeApplyResult, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	phase, previous, err := s.requireCompletedPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	var previousID *string
	if previous != nil {
		previousID = &previous.ID
	}

	squads, err := s.squads.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squads")
	}

	result := &dto.TierChangeApplyResult{}
	for _, squad := range squads {
		record, err := s.changes.Apply(ctx, repository.ApplyParams{
			PhaseID:         phase.ID,
			PreviousPhaseID: previousID,
			SquadID:         squad.ID,
			AppliedBy:       actor.UserID,
			Now:             s.now(),
		})
		if err != nil {
			if appErrors.FromError(err).Code == appErrors.ErrConflict.Code {
				result.Skipped = append(result.Skipped, squad.ID)
				continue
			}
			return nil, appErrors.FromError(err)
		}
		result.Applied++
		s.emitAudit(ctx, actor, record)
	}
	return result, nil
}

// ListByPhase returns the decision records of a phase.
func (s *TierChangeService) ListByPhase(ctx context.Context, phaseID string) ([]models.TierChangeRecord, error) {
	if _, err := s.phases.FindByID(ctx, phaseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase")
	}
	records, err := s.changes.ListByPhase(ctx, phaseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tier changes")
	}
	return records, nil
}

// requireCompletedPhase loads the phase, ensures it has been finalized, and
// resolves the look-back phase for demotion decisions.
func (s *TierChangeService) requireCompletedPhase(ctx context.Context, phaseID string) (*models.Phase, *models.Phase, error) {
	phase, err := s.phases.FindByID(ctx, phaseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase")
	}
	if phase.Status != models.PhaseStatusCompleted {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "tier changes require a finalized phase")
	}

	previous, err := s.phases.FindLatestCompletedBefore(ctx, phase.StartDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return phase, nil, nil
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous phase")
	}
	return phase, previous, nil
}

func (s *TierChangeService) snapshotFlag(ctx context.Context, phaseID, squadID string) (*bool, error) {
	snapshot, err := s.snapshots.FindSquad(ctx, phaseID, squadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load eligibility snapshot")
	}
	eligible := snapshot.IsEligible
	return &eligible, nil
}

func (s *TierChangeService) emitAudit(ctx context.Context, actor *models.JWTClaims, record *models.TierChangeRecord) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(record)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionTierChangeApply,
		Resource:   "tier_change",
		ResourceID: &record.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "tier-change-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record tier change audit", zap.Error(err))
	}
}
