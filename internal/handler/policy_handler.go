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

type policyService interface {
	Snapshot(ctx context.Context) (models.OperationalPolicy, error)
	Update(ctx context.Context, req dto.UpdatePolicyRequest, actor *models.JWTClaims) (models.OperationalPolicy, error)
}

// PolicyHandler exposes the operational policy endpoints.
type PolicyHandler struct {
	service policyService
}

// NewPolicyHandler builds a new handler.
func NewPolicyHandler(service policyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// Get godoc
// @Summary Get the current operational policy
// @Tags Policy
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /policy [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Update godoc
// @Summary Update operational policy values
// @Tags Policy
// @Accept json
// @Produce json
// @Param payload body dto.UpdatePolicyRequest true "Policy payload"
// @Success 200 {object} response.Envelope
// @Router /policy [put]
func (h *PolicyHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid policy payload"))
		return
	}
	policy, err := h.service.Update(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}
