package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/repository"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type roleRequestRepoStub struct {
	byID       map[string]models.RoleRequest
	created    *models.RoleRequest
	createErr  error
	decideCall *repository.DecideRoleParams
	decideErr  error
}

func (s *roleRequestRepoStub) FindByID(ctx context.Context, id string) (*models.RoleRequest, error) {
	if r, ok := s.byID[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *roleRequestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.RoleRequest, int, error) {
	return nil, 0, nil
}

func (s *roleRequestRepoStub) Create(ctx context.Context, request *models.RoleRequest) error {
	if s.createErr != nil {
		return s.createErr
	}
	request.ID = "r-new"
	request.Status = models.RequestStatusPending
	s.created = request
	return nil
}

func (s *roleRequestRepoStub) Decide(ctx context.Context, params repository.DecideRoleParams) (*models.RoleRequest, *models.Membership, error) {
	s.decideCall = &params
	if s.decideErr != nil {
		return nil, nil, s.decideErr
	}
	req := s.byID[params.RequestID]
	req.Status = models.RequestStatusApproved
	if !params.Approve {
		req.Status = models.RequestStatusRejected
	}
	membership := &models.Membership{ID: req.MembershipID, SquadID: req.SquadID, Role: req.Role, Status: models.MembershipStatusActive}
	return &req, membership, nil
}

func newRoleRequestService(t *testing.T, requests *roleRequestRepoStub, students *membershipStudentStub, memberships *membershipRepoStub) (*RoleRequestService, *auditStub) {
	t.Helper()
	audit := &auditStub{}
	svc := NewRoleRequestService(requests, students, memberships, policyStub{policy: models.DefaultOperationalPolicy()}, audit, nil, nil)
	return svc, audit
}

func TestRoleRequestCreateFilesForPlainMember(t *testing.T) {
	requests := &roleRequestRepoStub{}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u1": {ID: "s1", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
	}
	svc, audit := newRoleRequestService(t, requests, students, memberships)

	request, err := svc.Create(context.Background(), dto.CreateRoleRequestPayload{Role: "STRATEGIST"}, studentClaims("u1"))
	require.NoError(t, err)
	require.NotNil(t, requests.created)
	assert.Equal(t, "m1", request.MembershipID)
	assert.Equal(t, models.RoleStrategist, request.Role)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRoleRequestCreate, audit.logs[0].Action)
}

func TestRoleRequestCreateRejectsLeadershipHolder(t *testing.T) {
	requests := &roleRequestRepoStub{}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u1": {ID: "s1", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s1": {ID: "m1", StudentID: "s1", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleViceCaptain},
		},
	}
	svc, _ := newRoleRequestService(t, requests, students, memberships)

	_, err := svc.Create(context.Background(), dto.CreateRoleRequestPayload{Role: "MANAGER"}, studentClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, requests.created)
}

func TestRoleRequestCreateRejectsNonLeadershipRole(t *testing.T) {
	requests := &roleRequestRepoStub{}
	svc, _ := newRoleRequestService(t, requests, &membershipStudentStub{}, &membershipRepoStub{})

	_, err := svc.Create(context.Background(), dto.CreateRoleRequestPayload{Role: "MEMBER"}, studentClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, requests.created)
}

func TestRoleRequestDecideByAdmin(t *testing.T) {
	requests := &roleRequestRepoStub{
		byID: map[string]models.RoleRequest{
			"r1": {ID: "r1", MembershipID: "m1", StudentID: "s1", SquadID: "sq1", Role: models.RoleCaptain, Status: models.RequestStatusPending},
		},
	}
	svc, audit := newRoleRequestService(t, requests, &membershipStudentStub{}, &membershipRepoStub{})

	request, membership, err := svc.Decide(context.Background(), "r1", dto.DecideRequestPayload{Approve: true}, adminClaims())
	require.NoError(t, err)
	require.NotNil(t, requests.decideCall)
	assert.Equal(t, "admin-user", requests.decideCall.DeciderID)
	assert.Equal(t, models.RequestStatusApproved, request.Status)
	assert.Equal(t, models.RoleCaptain, membership.Role)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRoleRequestDecide, audit.logs[0].Action)
}

func TestRoleRequestDecideByOwnCaptain(t *testing.T) {
	requests := &roleRequestRepoStub{
		byID: map[string]models.RoleRequest{
			"r1": {ID: "r1", MembershipID: "m1", StudentID: "s1", SquadID: "sq1", Role: models.RoleStrategist, Status: models.RequestStatusPending},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	svc, _ := newRoleRequestService(t, requests, students, memberships)

	_, _, err := svc.Decide(context.Background(), "r1", dto.DecideRequestPayload{Approve: true}, studentClaims("u-cap"))
	require.NoError(t, err)
	require.NotNil(t, requests.decideCall)
	assert.Equal(t, "u-cap", requests.decideCall.DeciderID)
}

func TestRoleRequestDecideCaptainSeatAdminOnly(t *testing.T) {
	requests := &roleRequestRepoStub{
		byID: map[string]models.RoleRequest{
			"r1": {ID: "r1", MembershipID: "m1", StudentID: "s1", SquadID: "sq1", Role: models.RoleCaptain, Status: models.RequestStatusPending},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	svc, _ := newRoleRequestService(t, requests, students, memberships)

	_, _, err := svc.Decide(context.Background(), "r1", dto.DecideRequestPayload{Approve: true}, studentClaims("u-cap"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, requests.decideCall)
}

func TestRoleRequestDecideForeignCaptainForbidden(t *testing.T) {
	requests := &roleRequestRepoStub{
		byID: map[string]models.RoleRequest{
			"r1": {ID: "r1", MembershipID: "m1", StudentID: "s1", SquadID: "sq1", Role: models.RoleManager, Status: models.RequestStatusPending},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u-cap": {ID: "s-cap", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s-cap": {ID: "m-cap", StudentID: "s-cap", SquadID: "sq2", Status: models.MembershipStatusActive, Role: models.RoleCaptain},
		},
	}
	svc, _ := newRoleRequestService(t, requests, students, memberships)

	_, _, err := svc.Decide(context.Background(), "r1", dto.DecideRequestPayload{Approve: true}, studentClaims("u-cap"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, requests.decideCall)
}

func TestRoleRequestDecidePlainMemberForbidden(t *testing.T) {
	requests := &roleRequestRepoStub{
		byID: map[string]models.RoleRequest{
			"r1": {ID: "r1", MembershipID: "m1", StudentID: "s1", SquadID: "sq1", Role: models.RoleManager, Status: models.RequestStatusPending},
		},
	}
	students := &membershipStudentStub{byUser: map[string]models.Student{"u2": {ID: "s2", Active: true}}}
	memberships := &membershipRepoStub{
		active: map[string]models.Membership{
			"s2": {ID: "m2", StudentID: "s2", SquadID: "sq1", Status: models.MembershipStatusActive, Role: models.RoleMember},
		},
	}
	svc, _ := newRoleRequestService(t, requests, students, memberships)

	_, _, err := svc.Decide(context.Background(), "r1", dto.DecideRequestPayload{Approve: true}, studentClaims("u2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, requests.decideCall)
}
