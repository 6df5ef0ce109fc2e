package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/middleware"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type squadServiceMock struct {
	listResp  []models.Squad
	listTotal int
	lastQuery dto.SquadListQuery
	createErr error
	freezeErr error
}

func (m *squadServiceMock) List(ctx context.Context, query dto.SquadListQuery) ([]models.Squad, int, error) {
	m.lastQuery = query
	return m.listResp, m.listTotal, nil
}

func (m *squadServiceMock) Get(ctx context.Context, id string) (*dto.SquadDetail, []models.MembershipDetail, error) {
	return &dto.SquadDetail{ID: id, Code: "SQ-01", Tier: "D", Status: "ACTIVE"}, nil, nil
}

func (m *squadServiceMock) Create(ctx context.Context, req dto.CreateSquadRequest, actor *models.JWTClaims) (*models.Squad, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Squad{ID: "sq1", Code: req.Code, Name: req.Name, Tier: models.Tier(req.Tier), Status: models.SquadStatusInactive}, nil
}

func (m *squadServiceMock) Freeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error) {
	if m.freezeErr != nil {
		return nil, m.freezeErr
	}
	return &models.Squad{ID: id, Status: models.SquadStatusFrozen}, nil
}

func (m *squadServiceMock) Unfreeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error) {
	return &models.Squad{ID: id, Status: models.SquadStatusActive}, nil
}

func TestSquadHandlerListParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &squadServiceMock{listResp: []models.Squad{{ID: "sq1"}}, listTotal: 1}
	handler := NewSquadHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/squads?tier=B&status=ACTIVE&page=2&pageSize=5", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B", mock.lastQuery.Tier)
	assert.Equal(t, "ACTIVE", mock.lastQuery.Status)
	assert.Equal(t, 2, mock.lastQuery.Page)
	assert.Equal(t, 5, mock.lastQuery.PageSize)
}

func TestSquadHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSquadHandler(&squadServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.CreateSquadRequest{Code: "SQ-01", Name: "Alpha", Tier: "D"})
	req, _ := http.NewRequest(http.MethodPost, "/squads", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.Squad `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "SQ-01", envelope.Data.Code)
	assert.Equal(t, models.SquadStatusInactive, envelope.Data.Status)
}

func TestSquadHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSquadHandler(&squadServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/squads", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSquadHandlerFreezeConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSquadHandler(&squadServiceMock{
		freezeErr: appErrors.Clone(appErrors.ErrConflict, "squad is already frozen"),
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/squads/sq1/freeze", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "sq1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Freeze(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}
