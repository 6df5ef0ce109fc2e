package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/response"
)

type phaseService interface {
	Create(ctx context.Context, req dto.CreatePhaseRequest, actor *models.JWTClaims) (*models.Phase, error)
	Current(ctx context.Context) (*models.Phase, error)
	Get(ctx context.Context, id string) (*models.Phase, map[models.Tier]int, error)
	List(ctx context.Context, page, size int) ([]models.Phase, int, error)
	UpdateTargets(ctx context.Context, phaseID string, req dto.UpdatePhaseTargetsRequest, actor *models.JWTClaims) error
	IsChangeDay(ctx context.Context, now time.Time) (bool, error)
}

type phaseEvaluationService interface {
	EvaluatePhase(ctx context.Context, phaseID string, actor *models.JWTClaims) error
}

// PhaseHandler exposes competition phase management endpoints.
type PhaseHandler struct {
	service   phaseService
	evaluator phaseEvaluationService
}

// NewPhaseHandler builds a new handler.
func NewPhaseHandler(service phaseService, evaluator phaseEvaluationService) *PhaseHandler {
	return &PhaseHandler{service: service, evaluator: evaluator}
}

// Create godoc
// @Summary Open a new competition phase
// @Tags Phases
// @Accept json
// @Produce json
// @Param payload body dto.CreatePhaseRequest true "Phase payload"
// @Success 201 {object} response.Envelope
// @Router /phases [post]
func (h *PhaseHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.CreatePhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid phase payload"))
		return
	}
	phase, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, phase)
}

// Current godoc
// @Summary Get the active phase
// @Tags Phases
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /phases/current [get]
func (h *PhaseHandler) Current(c *gin.Context) {
	phase, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, phase, nil)
}

// Get godoc
// @Summary Get a phase with its tier targets
// @Tags Phases
// @Produce json
// @Param id path string true "Phase ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id} [get]
func (h *PhaseHandler) Get(c *gin.Context) {
	phase, targets, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"phase": phase, "targets": targets}, nil)
}

// List godoc
// @Summary List phases
// @Tags Phases
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /phases [get]
func (h *PhaseHandler) List(c *gin.Context) {
	page := intQuery(c, "page", 1)
	size := intQuery(c, "pageSize", 20)
	phases, total, err := h.service.List(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, phases, &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	})
}

// UpdateTargets godoc
// @Summary Update the tier targets of a phase
// @Tags Phases
// @Accept json
// @Produce json
// @Param id path string true "Phase ID"
// @Param payload body dto.UpdatePhaseTargetsRequest true "Targets payload"
// @Success 204
// @Router /phases/{id}/targets [put]
func (h *PhaseHandler) UpdateTargets(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.UpdatePhaseTargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid targets payload"))
		return
	}
	if err := h.service.UpdateTargets(c.Request.Context(), c.Param("id"), req, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangeDay godoc
// @Summary Report whether today is the change-day of the active phase
// @Tags Phases
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /phases/change-day [get]
func (h *PhaseHandler) ChangeDay(c *gin.Context) {
	isChangeDay, err := h.service.IsChangeDay(c.Request.Context(), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"is_change_day": isChangeDay}, nil)
}

// Evaluate godoc
// @Summary Recompute eligibility snapshots for a phase
// @Tags Phases
// @Produce json
// @Param id path string true "Phase ID"
// @Success 204
// @Router /phases/{id}/evaluate [post]
func (h *PhaseHandler) Evaluate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil || !claims.Role.IsAdmin() {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	if err := h.evaluator.EvaluatePhase(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
