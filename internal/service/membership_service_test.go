package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/repository"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/workdays"
)

type membershipRepoStub struct {
	byID       map[string]models.Membership
	active     map[string]models.Membership
	leaveCall  *repository.LeaveParams
	joinCall   *repository.JoinParams
	leaveErr   error
	joinResult *models.Membership
}

func (s *membershipRepoStub) FindByID(ctx context.Context, id string) (*models.Membership, error) {
	if m, ok := s.byID[id]; ok {
		return &m, nil
	}
	return nil, sql.ErrNoRows
}

func (s *membershipRepoStub) FindActiveByStudent(ctx context.Context, studentID string) (*models.Membership, error) {
	if m, ok := s.active[studentID]; ok {
		return &m, nil
	}
	return nil, sql.ErrNoRows
}

func (s *membershipRepoStub) ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error) {
	return nil, nil
}

func (s *membershipRepoStub) Join(ctx context.Context, params repository.JoinParams) (*models.Membership, error) {
	s.joinCall = &params
	if s.joinResult != nil {
		return s.joinResult, nil
	}
	return &models.Membership{ID: "m1", StudentID: params.StudentID, SquadID: params.SquadID, Role: models.RoleMember, Status: models.MembershipStatusActive}, nil
}

func (s *membershipRepoStub) Leave(ctx context.Context, params repository.LeaveParams) (*models.Membership, error) {
	s.leaveCall = &params
	if s.leaveErr != nil {
		return nil, s.leaveErr
	}
	m := s.byID[params.MembershipID]
	m.Status = models.MembershipStatusLeft
	m.RejoinDeadline = &params.RejoinDeadline
	return &m, nil
}

func (s *membershipRepoStub) UpdateRole(ctx context.Context, params repository.UpdateRoleParams) (*models.Membership, error) {
	m := s.byID[params.MembershipID]
	m.Role = params.NewRole
	return &m, nil
}

type membershipStudentStub struct {
	byUser map[string]models.Student
}

func (s *membershipStudentStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, Active: true}, nil
}

func (s *membershipStudentStub) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if st, ok := s.byUser[userID]; ok {
		return &st, nil
	}
	return nil, sql.ErrNoRows
}

type policyStub struct {
	policy models.OperationalPolicy
}

func (s policyStub) Snapshot(ctx context.Context) (models.OperationalPolicy, error) {
	return s.policy, nil
}

type changeDayStub struct {
	isChangeDay bool
	err         error
}

func (s changeDayStub) IsChangeDay(ctx context.Context, now time.Time) (bool, error) {
	return s.isChangeDay, s.err
}

type auditStub struct {
	logs []models.AuditLog
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, *log)
	return nil
}

func newMembershipService(t *testing.T, repo *membershipRepoStub, students *membershipStudentStub, changeDay changeDayStub) (*MembershipService, *auditStub) {
	t.Helper()
	calendar, err := workdays.NewCalendar(nil)
	require.NoError(t, err)
	audit := &auditStub{}
	svc := NewMembershipService(repo, students, policyStub{policy: models.DefaultOperationalPolicy()}, changeDay, calendar, audit, nil, nil)
	return svc, audit
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-user", Role: models.RoleAdmin}
}

func studentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleStudent}
}

func TestMembershipJoinRequiresAdmin(t *testing.T) {
	repo := &membershipRepoStub{}
	svc, _ := newMembershipService(t, repo, &membershipStudentStub{}, changeDayStub{})

	_, err := svc.Join(context.Background(), dto.JoinSquadRequest{
		StudentID: "6f1d2e3a-0000-4000-8000-000000000001",
		SquadID:   "6f1d2e3a-0000-4000-8000-000000000002",
	}, studentClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.joinCall)
}

func TestMembershipJoinPassesPolicySnapshot(t *testing.T) {
	repo := &membershipRepoStub{}
	svc, audit := newMembershipService(t, repo, &membershipStudentStub{}, changeDayStub{})

	membership, err := svc.Join(context.Background(), dto.JoinSquadRequest{
		StudentID: "6f1d2e3a-0000-4000-8000-000000000001",
		SquadID:   "6f1d2e3a-0000-4000-8000-000000000002",
	}, adminClaims())
	require.NoError(t, err)
	require.NotNil(t, repo.joinCall)
	assert.Equal(t, 11, repo.joinCall.Policy.MaxSquadMembers)
	assert.Equal(t, models.MembershipStatusActive, membership.Status)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionMembershipJoin, audit.logs[0].Action)
}

func TestMembershipJoinForwardsIncubationBypass(t *testing.T) {
	repo := &membershipRepoStub{}
	svc, _ := newMembershipService(t, repo, &membershipStudentStub{}, changeDayStub{})

	_, err := svc.Join(context.Background(), dto.JoinSquadRequest{
		StudentID:        "6f1d2e3a-0000-4000-8000-000000000001",
		SquadID:          "6f1d2e3a-0000-4000-8000-000000000002",
		BypassIncubation: true,
	}, adminClaims())
	require.NoError(t, err)
	require.NotNil(t, repo.joinCall)
	assert.True(t, repo.joinCall.BypassIncubation)

	repo.joinCall = nil
	_, err = svc.Join(context.Background(), dto.JoinSquadRequest{
		StudentID: "6f1d2e3a-0000-4000-8000-000000000001",
		SquadID:   "6f1d2e3a-0000-4000-8000-000000000002",
	}, adminClaims())
	require.NoError(t, err)
	require.NotNil(t, repo.joinCall)
	assert.False(t, repo.joinCall.BypassIncubation)
}

func TestMembershipLeaveRejectedOffChangeDay(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u1": {ID: "s1", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{isChangeDay: false})

	_, err := svc.Leave(context.Background(), "m1", studentClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.leaveCall)
}

func TestMembershipLeaveFridaySetsMondayDeadline(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u1": {ID: "s1", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{isChangeDay: true})

	friday := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return friday }

	left, err := svc.Leave(context.Background(), "m1", studentClaims("u1"))
	require.NoError(t, err)
	require.NotNil(t, repo.leaveCall)

	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	wantDeadline := monday.Add(24*time.Hour - time.Nanosecond)
	assert.Equal(t, wantDeadline, repo.leaveCall.RejoinDeadline)
	assert.Equal(t, models.MembershipStatusLeft, left.Status)
}

func TestMembershipLeaveForbiddenForOtherStudent(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", Status: models.MembershipStatusActive},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u2": {ID: "s2", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{isChangeDay: true})

	_, err := svc.Leave(context.Background(), "m1", studentClaims("u2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMembershipRemoveBypassesChangeDay(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive},
		},
	}
	svc, audit := newMembershipService(t, repo, &membershipStudentStub{}, changeDayStub{isChangeDay: false})

	removed, err := svc.Remove(context.Background(), "m1", dto.RemoveMemberRequest{Reason: "repeated no-shows"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.MembershipStatusLeft, removed.Status)
	require.NotNil(t, repo.leaveCall)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionMembershipRemove, audit.logs[0].Action)
}

func TestMembershipUpdateRoleRejectsUnknownRole(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
	}
	svc, _ := newMembershipService(t, repo, &membershipStudentStub{}, changeDayStub{})

	_, err := svc.UpdateRole(context.Background(), "m1", dto.UpdateRoleRequest{Role: "COACH"}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMembershipUpdateRoleByOwnCaptain(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{})

	updated, err := svc.UpdateRole(context.Background(), "m1", dto.UpdateRoleRequest{Role: "VICE_CAPTAIN"}, studentClaims("u-cap"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleViceCaptain, updated.Role)
}

func TestMembershipUpdateRoleCaptainSeatStaysAdminOnly(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{})

	_, err := svc.UpdateRole(context.Background(), "m1", dto.UpdateRoleRequest{Role: "CAPTAIN"}, studentClaims("u-cap"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMembershipUpdateRoleForeignCaptainForbidden(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq2", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{})

	_, err := svc.UpdateRole(context.Background(), "m1", dto.UpdateRoleRequest{Role: "MANAGER"}, studentClaims("u-cap"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMembershipUpdateRolePlainMemberForbidden(t *testing.T) {
	repo := &membershipRepoStub{
		byID: map[string]models.Membership{
			"m1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
		active: map[string]models.Membership{
			"s2": {ID: "m2", StudentID: "s2", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u2": {ID: "s2", Active: true}}}
	svc, _ := newMembershipService(t, repo, students, changeDayStub{})

	_, err := svc.UpdateRole(context.Background(), "m1", dto.UpdateRoleRequest{Role: "STRATEGIST"}, studentClaims("u2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
