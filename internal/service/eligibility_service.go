package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type eligibilityRepository interface {
	ReplaceForPhase(ctx context.Context, phaseID string, individuals []models.IndividualEligibility, squads []models.SquadEligibility) error
	ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error)
	ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error)
}

type eligibilityPhaseReader interface {
	FindByID(ctx context.Context, id string) (*models.Phase, error)
	GetTargets(ctx context.Context, phaseID string) (map[models.Tier]int, error)
}

type eligibilityPointsReader interface {
	SumIndividualInWindow(ctx context.Context, start, end time.Time) ([]models.StudentWindowPoints, error)
	SumSquadInWindow(ctx context.Context, start, end time.Time) ([]models.SquadWindowPoints, error)
}

type eligibilityStudentLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type eligibilitySquadLister interface {
	ListAll(ctx context.Context) ([]models.Squad, error)
}

type eligibilityAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EligibilityService recomputes eligibility snapshots for a phase from the
// points ledger. Evaluation is a pure recompute: running it twice against
// the same ledger state yields identical snapshots.
type EligibilityService struct {
	snapshots eligibilityRepository
	phases    eligibilityPhaseReader
	points    eligibilityPointsReader
	students  eligibilityStudentLister
	squads    eligibilitySquadLister
	audit     eligibilityAuditLogger
	logger    *zap.Logger
}

// NewEligibilityService constructs an EligibilityService.
func NewEligibilityService(snapshots eligibilityRepository, phases eligibilityPhaseReader, points eligibilityPointsReader, students eligibilityStudentLister, squads eligibilitySquadLister, audit eligibilityAuditLogger, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{
		snapshots: snapshots,
		phases:    phases,
		points:    points,
		students:  students,
		squads:    squads,
		audit:     audit,
		logger:    logger,
	}
}

// EvaluatePhase recomputes and upserts both snapshot sets for a phase.
// Every active student and every squad receives a row, zero points when the
// ledger has no entries in the window.
func (s *EligibilityService) EvaluatePhase(ctx context.Context, phaseID string, actor *models.JWTClaims) error {
	phase, err := s.phases.FindByID(ctx, phaseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase")
	}
	targets, err := s.phases.GetTargets(ctx, phaseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase targets")
	}

	start, end := phase.Window()
	individualSums, err := s.points.SumIndividualInWindow(ctx, start, end)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum individual points")
	}
	squadSums, err := s.points.SumSquadInWindow(ctx, start, end)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum squad points")
	}

	pointsByStudent := make(map[string]int, len(individualSums))
	for _, sum := range individualSums {
		pointsByStudent[sum.StudentID] = sum.Points
	}
	pointsBySquad := make(map[string]int, len(squadSums))
	for _, sum := range squadSums {
		pointsBySquad[sum.SquadID] = sum.Points
	}

	studentIDs, err := s.students.ListActiveIDs(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	individuals := make([]models.IndividualEligibility, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		points := pointsByStudent[studentID]
		row := models.IndividualEligibility{
			PhaseID:   phaseID,
			StudentID: studentID,
			Points:    points,
		}
		if phase.IndividualTarget == nil {
			row.ReasonCode = models.ReasonIndividualTargetNotConfigured
		} else if points >= *phase.IndividualTarget {
			row.IsEligible = true
			row.ReasonCode = models.ReasonIndividualTargetMet
		} else {
			row.ReasonCode = models.ReasonIndividualTargetNotMet
		}
		individuals = append(individuals, row)
	}

	allSquads, err := s.squads.ListAll(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squads")
	}
	squads := make([]models.SquadEligibility, 0, len(allSquads))
	for _, squad := range allSquads {
		points := pointsBySquad[squad.ID]
		row := models.SquadEligibility{
			PhaseID: phaseID,
			SquadID: squad.ID,
			Tier:    squad.Tier,
			Points:  points,
		}
		target, configured := targets[squad.Tier]
		if !configured {
			row.ReasonCode = models.ReasonSquadTargetNotConfigured
		} else if points >= target {
			row.IsEligible = true
			row.ReasonCode = models.ReasonSquadTargetMet
		} else {
			row.ReasonCode = models.ReasonSquadTargetNotMet
		}
		squads = append(squads, row)
	}

	if err := s.snapshots.ReplaceForPhase(ctx, phaseID, individuals, squads); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store eligibility snapshots")
	}

	s.emitAudit(ctx, actor, phaseID, len(individuals), len(squads))
	return nil
}

// ListIndividuals returns the individual snapshots of a phase.
func (s *EligibilityService) ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error) {
	if err := s.requirePhase(ctx, phaseID); err != nil {
		return nil, err
	}
	rows, err := s.snapshots.ListIndividuals(ctx, phaseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list individual eligibility")
	}
	return rows, nil
}

// ListSquads returns the squad snapshots of a phase.
func (s *EligibilityService) ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error) {
	if err := s.requirePhase(ctx, phaseID); err != nil {
		return nil, err
	}
	rows, err := s.snapshots.ListSquads(ctx, phaseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list squad eligibility")
	}
	return rows, nil
}

func (s *EligibilityService) requirePhase(ctx context.Context, phaseID string) error {
	if _, err := s.phases.FindByID(ctx, phaseID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "phase not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load phase")
	}
	return nil
}

func (s *EligibilityService) emitAudit(ctx context.Context, actor *models.JWTClaims, phaseID string, individuals, squads int) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"individuals": individuals, "squads": squads})
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionPhaseEvaluate,
		Resource:   "phase",
		ResourceID: &phaseID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "eligibility-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record evaluation audit", zap.Error(err))
	}
}
