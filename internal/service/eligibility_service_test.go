package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type eligSnapshotStub struct {
	individuals []models.IndividualEligibility
	squads      []models.SquadEligibility
}

func (s *eligSnapshotStub) ReplaceForPhase(ctx context.Context, phaseID string, individuals []models.IndividualEligibility, squads []models.SquadEligibility) error {
	s.individuals = individuals
	s.squads = squads
	return nil
}

func (s *eligSnapshotStub) ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error) {
	return s.individuals, nil
}

func (s *eligSnapshotStub) ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error) {
	return s.squads, nil
}

type eligPhaseStub struct {
	phase   *models.Phase
	targets map[models.Tier]int
}

func (s *eligPhaseStub) FindByID(ctx context.Context, id string) (*models.Phase, error) {
	if s.phase == nil || s.phase.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.phase, nil
}

func (s *eligPhaseStub) GetTargets(ctx context.Context, phaseID string) (map[models.Tier]int, error) {
	return s.targets, nil
}

type eligPointsStub struct {
	individual []models.StudentWindowPoints
	squad      []models.SquadWindowPoints
}

func (s *eligPointsStub) SumIndividualInWindow(ctx context.Context, start, end time.Time) ([]models.StudentWindowPoints, error) {
	return s.individual, nil
}

func (s *eligPointsStub) SumSquadInWindow(ctx context.Context, start, end time.Time) ([]models.SquadWindowPoints, error) {
	return s.squad, nil
}

type eligStudentStub struct {
	ids []string
}

func (s *eligStudentStub) ListActiveIDs(ctx context.Context) ([]string, error) {
	return s.ids, nil
}

type eligSquadStub struct {
	squads []models.Squad
}

func (s *eligSquadStub) ListAll(ctx context.Context) ([]models.Squad, error) {
	return s.squads, nil
}

func completedPhase(target *int) *models.Phase {
	return &models.Phase{
		ID:               "p1",
		Name:             "Sprint 1",
		StartDate:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC).Add(24*time.Hour - time.Nanosecond),
		Status:           models.PhaseStatusCompleted,
		IndividualTarget: target,
	}
}

func intPtr(v int) *int { return &v }

func TestEvaluatePhaseIndividualTarget(t *testing.T) {
	snapshots := &eligSnapshotStub{}
	phases := &eligPhaseStub{phase: completedPhase(intPtr(60)), targets: map[models.Tier]int{}}
	points := &eligPointsStub{
		individual: []models.StudentWindowPoints{
			{StudentID: "s1", Points: 75},
			{StudentID: "s2", Points: 50},
		},
	}
	students := &eligStudentStub{ids: []string{"s1", "s2", "s3"}}
	audit := &auditStub{}
	svc := NewEligibilityService(snapshots, phases, points, students, &eligSquadStub{}, audit, nil)

	err := svc.EvaluatePhase(context.Background(), "p1", adminClaims())
	require.NoError(t, err)
	require.Len(t, snapshots.individuals, 3)

	byStudent := make(map[string]models.IndividualEligibility, 3)
	for _, row := range snapshots.individuals {
		byStudent[row.StudentID] = row
	}

	assert.True(t, byStudent["s1"].IsEligible)
	assert.Equal(t, models.ReasonIndividualTargetMet, byStudent["s1"].ReasonCode)
	assert.Equal(t, 75, byStudent["s1"].Points)

	assert.False(t, byStudent["s2"].IsEligible)
	assert.Equal(t, models.ReasonIndividualTargetNotMet, byStudent["s2"].ReasonCode)

	// No ledger entries in the window still yields a snapshot row.
	assert.False(t, byStudent["s3"].IsEligible)
	assert.Equal(t, 0, byStudent["s3"].Points)
	assert.Equal(t, models.ReasonIndividualTargetNotMet, byStudent["s3"].ReasonCode)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionPhaseEvaluate, audit.logs[0].Action)
}

func TestEvaluatePhaseWithoutIndividualTarget(t *testing.T) {
	snapshots := &eligSnapshotStub{}
	phases := &eligPhaseStub{phase: completedPhase(nil), targets: map[models.Tier]int{}}
	students := &eligStudentStub{ids: []string{"s1"}}
	svc := NewEligibilityService(snapshots, phases, &eligPointsStub{}, students, &eligSquadStub{}, nil, nil)

	err := svc.EvaluatePhase(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Len(t, snapshots.individuals, 1)
	assert.False(t, snapshots.individuals[0].IsEligible)
	assert.Equal(t, models.ReasonIndividualTargetNotConfigured, snapshots.individuals[0].ReasonCode)
}

func TestEvaluatePhaseSquadTargetsPerTier(t *testing.T) {
	snapshots := &eligSnapshotStub{}
	phases := &eligPhaseStub{
		phase: completedPhase(nil),
		targets: map[models.Tier]int{
			models.TierD: 100,
			models.TierC: 150,
		},
	}
	points := &eligPointsStub{
		squad: []models.SquadWindowPoints{
			{SquadID: "sq1", Points: 120},
			{SquadID: "sq2", Points: 140},
		},
	}
	squads := &eligSquadStub{squads: []models.Squad{
		{ID: "sq1", Tier: models.TierD},
		{ID: "sq2", Tier: models.TierC},
		{ID: "sq3", Tier: models.TierB},
	}}
	svc := NewEligibilityService(snapshots, phases, points, &eligStudentStub{}, squads, nil, nil)

	err := svc.EvaluatePhase(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Len(t, snapshots.squads, 3)

	bySquad := make(map[string]models.SquadEligibility, 3)
	for _, row := range snapshots.squads {
		bySquad[row.SquadID] = row
	}

	assert.True(t, bySquad["sq1"].IsEligible)
	assert.Equal(t, models.ReasonSquadTargetMet, bySquad["sq1"].ReasonCode)

	assert.False(t, bySquad["sq2"].IsEligible)
	assert.Equal(t, models.ReasonSquadTargetNotMet, bySquad["sq2"].ReasonCode)

	// Tier B has no configured target for this phase.
	assert.False(t, bySquad["sq3"].IsEligible)
	assert.Equal(t, models.ReasonSquadTargetNotConfigured, bySquad["sq3"].ReasonCode)
	assert.Equal(t, models.TierB, bySquad["sq3"].Tier)
}

func TestEvaluatePhaseUnknownPhase(t *testing.T) {
	svc := NewEligibilityService(&eligSnapshotStub{}, &eligPhaseStub{}, &eligPointsStub{}, &eligStudentStub{}, &eligSquadStub{}, nil, nil)

	err := svc.EvaluatePhase(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestListIndividualsRequiresPhase(t *testing.T) {
	svc := NewEligibilityService(&eligSnapshotStub{}, &eligPhaseStub{}, &eligPointsStub{}, &eligStudentStub{}, &eligSquadStub{}, nil, nil)

	_, err := svc.ListIndividuals(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
