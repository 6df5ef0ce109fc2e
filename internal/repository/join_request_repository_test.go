package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

func newJoinRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func pendingJoinRequestRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "student_id", "squad_id", "status", "message", "decided_by", "decision_reason", "requested_at", "decided_at"}).
		AddRow(id, "s1", "sq1", "PENDING", nil, nil, nil, now, nil)
}

func TestJoinRequestRepositoryCreateBlocksSecondPending(t *testing.T) {
	db, mock, cleanup := newJoinRequestRepoMock(t)
	defer cleanup()
	repo := NewJoinRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM join_requests WHERE student_id = $1 AND status = 'PENDING'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.JoinRequest{StudentID: "s1", SquadID: "sq1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinRequestRepositoryDecideReject(t *testing.T) {
	db, mock, cleanup := newJoinRequestRepoMock(t)
	defer cleanup()
	repo := NewJoinRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, status, message, decided_by, decision_reason, requested_at, decided_at FROM join_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(pendingJoinRequestRows("r1"))
	mock.ExpectExec(`UPDATE join_requests`).
		WithArgs("r1", models.RequestStatusRejected, "admin-1", "squad roster is settled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	request, membership, err := repo.Decide(context.Background(), DecideJoinParams{
		RequestID: "r1",
		Approve:   false,
		DeciderID: "admin-1",
		Reason:    "squad roster is settled",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, membership)
	assert.Equal(t, models.RequestStatusRejected, request.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinRequestRepositoryDecideApproveInsideRejoinDeadline(t *testing.T) {
	db, mock, cleanup := newJoinRequestRepoMock(t)
	defer cleanup()
	repo := NewJoinRequestRepository(db)

	now := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(30 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, status, message, decided_by, decision_reason, requested_at, decided_at FROM join_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(pendingJoinRequestRows("r1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT rejoin_deadline FROM memberships`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"rejoin_deadline"}).AddRow(deadline))
	mock.ExpectRollback()

	_, _, err := repo.Decide(context.Background(), DecideJoinParams{
		RequestID: "r1",
		Approve:   true,
		DeciderID: "admin-1",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       now,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinRequestRepositoryDecideLostRace(t *testing.T) {
	db, mock, cleanup := newJoinRequestRepoMock(t)
	defer cleanup()
	repo := NewJoinRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, status, message, decided_by, decision_reason, requested_at, decided_at FROM join_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(pendingJoinRequestRows("r1"))
	// The guarded update misses: another decider claimed the row between
	// the read and the write.
	mock.ExpectExec(`UPDATE join_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := repo.Decide(context.Background(), DecideJoinParams{
		RequestID: "r1",
		Approve:   false,
		DeciderID: "admin-1",
		Reason:    "duplicate",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinRequestRepositoryDecideAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newJoinRequestRepoMock(t)
	defer cleanup()
	repo := NewJoinRequestRepository(db)

	now := time.Now()
	decided := sqlmock.NewRows([]string{"id", "student_id", "squad_id", "status", "message", "decided_by", "decision_reason", "requested_at", "decided_at"}).
		AddRow("r1", "s1", "sq1", "APPROVED", nil, "admin-1", "ok", now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, status, message, decided_by, decision_reason, requested_at, decided_at FROM join_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(decided)
	mock.ExpectRollback()

	_, _, err := repo.Decide(context.Background(), DecideJoinParams{
		RequestID: "r1",
		Approve:   true,
		DeciderID: "admin-2",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       now,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
