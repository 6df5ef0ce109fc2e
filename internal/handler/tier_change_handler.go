package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/pkg/response"
)

type tierChangeService interface {
	Preview(ctx context.Context, phaseID, squadID string) (*dto.TierChangePreview, error)
	Apply(ctx context.Context, phaseID, squadID string, actor *models.JWTClaims) (*models.TierChangeRecord, error)
	ApplyAll(ctx context.Context, phaseID string, actor *models.JWTClaims) (*dto.TierChangeApplyResult, error)
	ListByPhase(ctx context.Context, phaseID string) ([]models.TierChangeRecord, error)
}

// TierChangeHandler exposes automatic end-of-phase tier movement endpoints.
type TierChangeHandler struct {
	service tierChangeService
}

// NewTierChangeHandler builds a new handler.
func NewTierChangeHandler(service tierChangeService) *TierChangeHandler {
	return &TierChangeHandler{service: service}
}

// Preview godoc
// @Summary Preview the tier movement a finalized phase would produce for a squad
// @Tags TierChanges
// @Produce json
// @Param id path string true "Phase ID"
// @Param squadId path string true "Squad ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id}/tier-changes/{squadId}/preview [get]
func (h *TierChangeHandler) Preview(c *gin.Context) {
	preview, err := h.service.Preview(c.Request.Context(), c.Param("id"), c.Param("squadId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Apply godoc
// @Summary Apply the tier movement for one squad
// @Tags TierChanges
// @Produce json
// @Param id path string true "Phase ID"
// @Param squadId path string true "Squad ID"
// @Success 201 {object} response.Envelope
// @Router /phases/{id}/tier-changes/{squadId} [post]
func (h *TierChangeHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	record, err := h.service.Apply(c.Request.Context(), c.Param("id"), c.Param("squadId"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ApplyAll godoc
// @Summary Apply tier movements for every squad in one sweep
// @Tags TierChanges
// @Produce json
// @Param id path string true "Phase ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id}/tier-changes [post]
func (h *TierChangeHandler) ApplyAll(c *gin.Context) {
	claims := claimsFromContext(c)
	result, err := h.service.ApplyAll(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List applied tier changes for a phase
// @Tags TierChanges
// @Produce json
// @Param id path string true "Phase ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id}/tier-changes [get]
func (h *TierChangeHandler) List(c *gin.Context) {
	records, err := h.service.ListByPhase(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
