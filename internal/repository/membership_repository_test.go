package repository

import (
	"context"
	"database/sql"
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

func newMembershipRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func squadRows(id string, status models.SquadStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "code", "name", "tier", "status", "created_at", "updated_at"}).
		AddRow(id, "SQ-01", "Alpha", "D", status, now, now)
}

func TestMembershipRepositoryJoin(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT rejoin_deadline FROM memberships`).
		WithArgs("s1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1 FOR UPDATE`)).
		WithArgs("sq1").
		WillReturnRows(squadRows("sq1", models.SquadStatusActive))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectExec(`INSERT INTO memberships`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Status recompute after the insert.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT role\) FROM memberships`).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	membership, err := repo.Join(context.Background(), JoinParams{
		StudentID: "s1",
		SquadID:   "sq1",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusActive, membership.Status)
	assert.Equal(t, models.RoleMember, membership.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryJoinAtCapacity(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT rejoin_deadline FROM memberships`).
		WithArgs("s1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1 FOR UPDATE`)).
		WithArgs("sq1").
		WillReturnRows(squadRows("sq1", models.SquadStatusActive))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectRollback()

	_, err := repo.Join(context.Background(), JoinParams{
		StudentID: "s1",
		SquadID:   "sq1",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryJoinInsideRejoinDeadline(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	now := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(30 * time.Hour)

	mock.ExpectBegin()
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

	_, err := repo.Join(context.Background(), JoinParams{
		StudentID: "s1",
		SquadID:   "sq1",
		Policy:    models.DefaultOperationalPolicy(),
		Now:       now,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryJoinBypassSkipsRejoinDeadline(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	// The ordered expectations carry no rejoin_deadline query: with the
	// bypass set the admin may seat the student inside the window.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM students WHERE id = $1 AND active = TRUE FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE student_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1 FOR UPDATE`)).
		WithArgs("sq1").
		WillReturnRows(squadRows("sq1", models.SquadStatusActive))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectExec(`INSERT INTO memberships`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`)).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT role\) FROM memberships`).
		WithArgs("sq1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	membership, err := repo.Join(context.Background(), JoinParams{
		StudentID:        "s1",
		SquadID:          "sq1",
		Policy:           models.DefaultOperationalPolicy(),
		BypassIncubation: true,
		Now:              time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusActive, membership.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryUpdateRoleHeldElsewhere(t *testing.T) {
	db, mock, cleanup := newMembershipRepoMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	now := time.Now()
	memberRows := sqlmock.NewRows([]string{"id", "student_id", "squad_id", "role", "status", "join_date", "leave_date", "rejoin_deadline", "created_at", "updated_at"}).
		AddRow("m1", "s1", "sq1", "MEMBER", "ACTIVE", now, nil, nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, student_id, squad_id, role, status, join_date, leave_date, rejoin_deadline, created_at, updated_at FROM memberships WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(memberRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1 FOR UPDATE`)).
		WithArgs("sq1").
		WillReturnRows(squadRows("sq1", models.SquadStatusActive))
	mock.ExpectQuery(`SELECT id FROM memberships`).
		WithArgs("sq1", models.RoleCaptain, "m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m2"))
	mock.ExpectRollback()

	_, err := repo.UpdateRole(context.Background(), UpdateRoleParams{
		MembershipID: "m1",
		NewRole:      models.RoleCaptain,
		Policy:       models.DefaultOperationalPolicy(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
