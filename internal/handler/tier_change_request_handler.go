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

type tierChangeRequestService interface {
	Create(ctx context.Context, req dto.CreateTierChangeRequestPayload, actor *models.JWTClaims) (*models.TierChangeRequest, error)
	Decide(ctx context.Context, requestID string, req dto.DecideRequestPayload, actor *models.JWTClaims) (*models.TierChangeRequest, error)
	List(ctx context.Context, query dto.RequestListQuery, actor *models.JWTClaims) ([]models.TierChangeRequest, int, error)
}

// TierChangeRequestHandler exposes the manual tier change workflow.
type TierChangeRequestHandler struct {
	service tierChangeRequestService
}

// NewTierChangeRequestHandler builds a new handler.
func NewTierChangeRequestHandler(service tierChangeRequestService) *TierChangeRequestHandler {
	return &TierChangeRequestHandler{service: service}
}

// Create godoc
// @Summary File a tier change request
// @Tags TierChangeRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateTierChangeRequestPayload true "Tier change payload"
// @Success 201 {object} response.Envelope
// @Router /tier-change-requests [post]
func (h *TierChangeRequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.CreateTierChangeRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tier change payload"))
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
// @Summary Approve or reject a tier change request
// @Tags TierChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestPayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /tier-change-requests/{id}/decision [post]
func (h *TierChangeRequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.DecideRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	request, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List tier change requests
// @Tags TierChangeRequests
// @Produce json
// @Param status query string false "Status filter"
// @Param squadId query string false "Squad filter"
// @Success 200 {object} response.Envelope
// @Router /tier-change-requests [get]
func (h *TierChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	query := dto.RequestListQuery{
		Status:   c.Query("status"),
		SquadID:  c.Query("squadId"),
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "pageSize", 20),
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
