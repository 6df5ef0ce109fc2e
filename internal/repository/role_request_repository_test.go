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

func newRoleRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func pendingRoleRequestRows(id string, role models.MembershipRole) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "membership_id", "student_id", "squad_id", "role", "status", "message", "decided_by", "decision_reason", "requested_at", "decided_at"}).
		AddRow(id, "m1", "s1", "sq1", role, "PENDING", nil, nil, nil, now, nil)
}

func lockedMembershipRows(id, squadID string, role models.MembershipRole) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "student_id", "squad_id", "role", "status", "join_date", "leave_date", "rejoin_deadline", "created_at", "updated_at"}).
		AddRow(id, "s1", squadID, role, "ACTIVE", now, nil, nil, now, now)
}

func TestRoleRequestRepositoryCreateRejectsLeadershipHolder(t *testing.T) {
	db, mock, cleanup := newRoleRequestRepoMock(t)
	defer cleanup()
	repo := NewRoleRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, role, status, join_date, leave_date, rejoin_deadline, created_at, updated_at FROM memberships WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(lockedMembershipRows("m1", "sq1", models.RoleViceCaptain))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.RoleRequest{
		MembershipID: "m1",
		Role:         models.RoleManager,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRequestRepositoryCreateFilesForPlainMember(t *testing.T) {
	db, mock, cleanup := newRoleRequestRepoMock(t)
	defer cleanup()
	repo := NewRoleRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, role, status, join_date, leave_date, rejoin_deadline, created_at, updated_at FROM memberships WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(lockedMembershipRows("m1", "sq1", models.RoleMember))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM squads WHERE id = $1`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACTIVE"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND role = $2 AND status = 'ACTIVE'`)).
		WithArgs("sq1", models.RoleManager).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM role_requests`).
		WithArgs("m1", "sq1", models.RoleManager).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO role_requests`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request := &models.RoleRequest{MembershipID: "m1", Role: models.RoleManager}
	err := repo.Create(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, "sq1", request.SquadID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRequestRepositoryDecideApproveRoleDrifted(t *testing.T) {
	db, mock, cleanup := newRoleRequestRepoMock(t)
	defer cleanup()
	repo := NewRoleRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, membership_id, student_id, squad_id, role, status, message, decided_by, decision_reason, requested_at, decided_at FROM role_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("r1").
		WillReturnRows(pendingRoleRequestRows("r1", models.RoleStrategist))
	// The membership picked up a leadership role after the request was
	// filed, so the approval must not stack a second one.
	mock.ExpectQuery(`SELECT id, student_id, squad_id, role, status, join_date, leave_date, rejoin_deadline, created_at, updated_at FROM memberships WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(lockedMembershipRows("m1", "sq1", models.RoleManager))
	mock.ExpectRollback()

	_, _, err := repo.Decide(context.Background(), DecideRoleParams{
		RequestID: "r1",
		Approve:   true,
		DeciderID: "admin-1",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
