package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

func newPhaseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPhaseRepositoryCreateDisplacesActivePhase(t *testing.T) {
	db, mock, cleanup := newPhaseRepoMock(t)
	defer cleanup()
	repo := NewPhaseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE phases SET status = 'INACTIVE'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO phases`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO phase_targets`).
		WithArgs(sqlmock.AnyArg(), models.TierD, 100, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	phase := &models.Phase{
		Name:      "Sprint 1",
		StartDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		ChangeDay: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		CreatedBy: "admin-1",
	}
	err := repo.Create(context.Background(), phase, []models.PhaseTarget{
		{Tier: models.TierD, TargetPoints: 100},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, phase.ID)
	assert.Equal(t, models.PhaseStatusActive, phase.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPhaseRepositoryMarkCompleted(t *testing.T) {
	db, mock, cleanup := newPhaseRepoMock(t)
	defer cleanup()
	repo := NewPhaseRepository(db)

	mock.ExpectExec(`UPDATE phases SET status = 'COMPLETED'`).
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkCompleted(context.Background(), "p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPhaseRepositoryMarkCompletedAlreadyClaimed(t *testing.T) {
	db, mock, cleanup := newPhaseRepoMock(t)
	defer cleanup()
	repo := NewPhaseRepository(db)

	mock.ExpectExec(`UPDATE phases SET status = 'COMPLETED'`).
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "p1")
	assert.Equal(t, sql.ErrNoRows, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPhaseRepositoryUpdateTargetsOnFinalizedPhase(t *testing.T) {
	db, mock, cleanup := newPhaseRepoMock(t)
	defer cleanup()
	repo := NewPhaseRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM phases WHERE id = \$1 FOR UPDATE`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("COMPLETED"))
	mock.ExpectRollback()

	err := repo.UpdateTargets(context.Background(), "p1", []models.PhaseTarget{
		{Tier: models.TierA, TargetPoints: 300},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
