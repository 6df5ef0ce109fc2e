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

type pointsService interface {
	Award(ctx context.Context, req dto.AwardPointsRequest, actor *models.JWTClaims) (*models.PointsEntry, error)
	ListByStudent(ctx context.Context, studentID string, page, size int) ([]models.PointsEntry, int, int, error)
}

// PointsHandler exposes the point ledger endpoints.
type PointsHandler struct {
	service pointsService
}

// NewPointsHandler builds a new handler.
func NewPointsHandler(service pointsService) *PointsHandler {
	return &PointsHandler{service: service}
}

// Award godoc
// @Summary Award points to a student
// @Tags Points
// @Accept json
// @Produce json
// @Param payload body dto.AwardPointsRequest true "Points payload"
// @Success 201 {object} response.Envelope
// @Router /points [post]
func (h *PointsHandler) Award(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid points payload"))
		return
	}
	entry, err := h.service.Award(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// ListByStudent godoc
// @Summary List a student's point ledger
// @Tags Points
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/points [get]
func (h *PointsHandler) ListByStudent(c *gin.Context) {
	page := intQuery(c, "page", 1)
	size := intQuery(c, "pageSize", 20)
	entries, total, runningTotal, err := h.service.ListByStudent(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	}, map[string]interface{}{"running_total": runningTotal})
}
