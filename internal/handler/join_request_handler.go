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

type joinRequestService interface {
	Create(ctx context.Context, req dto.CreateJoinRequestPayload, actor *models.JWTClaims) (*models.JoinRequest, error)
	Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.JoinRequest, *models.Membership, error)
	List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.JoinRequest, int, error)
	Get(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.JoinRequest, error)
}

// JoinRequestHandler exposes the join request workflow.
type JoinRequestHandler struct {
	service joinRequestService
}

// NewJoinRequestHandler builds a new handler.
func NewJoinRequestHandler(service joinRequestService) *JoinRequestHandler {
	return &JoinRequestHandler{service: service}
}

// Create godoc
// @Summary File a join request
// @Tags JoinRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateJoinRequestPayload true "Join request payload"
// @Success 201 {object} response.Envelope
// @Router /join-requests [post]
func (h *JoinRequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.CreateJoinRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join request payload"))
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
// @Summary Approve or reject a join request
// @Tags JoinRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestPayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /join-requests/{id}/decision [post]
func (h *JoinRequestHandler) Decide(c *gin.Context) {
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
// @Summary List join requests
// @Tags JoinRequests
// @Produce json
// @Param status query string false "Status filter"
// @Param squadId query string false "Squad filter"
// @Success 200 {object} response.Envelope
// @Router /join-requests [get]
func (h *JoinRequestHandler) List(c *gin.Context) {
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

// Get godoc
// @Summary Get a join request
// @Tags JoinRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /join-requests/{id} [get]
func (h *JoinRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
