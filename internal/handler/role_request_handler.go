package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/response"
)

type roleRequestService interface {
	Create(ctx context.Context, req dto.CreateRoleRequestPayload, actor *models.JWTClaims) (*models.RoleRequest, error)
	Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.RoleRequest, *models.Membership, error)
	List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.RoleRequest, int, error)
}

// RoleRequestHandler exposes the leadership role request workflow.
type RoleRequestHandler struct {
	service roleRequestService
}

// NewRoleRequestHandler builds a new handler.
func NewRoleRequestHandler(service roleRequestService) *RoleRequestHandler {
	return &RoleRequestHandler{service: service}
}

// Create godoc
// @Summary File a leadership role request
// @Tags RoleRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRoleRequestPayload true "Role request payload"
// @Success 201 {object} response.Envelope
// @Router /role-requests [post]
func (h *RoleRequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.CreateRoleRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Decide godoc
// @Summary Approve or reject a role request
// @Tags RoleRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestPayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /role-requests/{id}/decision [post]
func (h *RoleRequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.DecideRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	request, membership, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload := gin.H{"request": request}
	if membership != nil {
		payload["membership"] = membership
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// List godoc
// @Summary List role requests
// @Tags RoleRequests
// @Produce json
// @Param status query string false "Status filter"
// @Param squadId query string false "Squad filter"
// @Success 200 {object} response.Envelope
// @Router /role-requests [get]
func (h *RoleRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	query := dto.RequestListQuery{
		Status:    c.Query("status"),
		SquadID:   c.Query("squadId"),
		StudentID: c.Query("studentId"),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "pageSize", 20),
	}
	requests, total, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}
