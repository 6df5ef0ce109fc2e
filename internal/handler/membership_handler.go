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

type membershipService interface {
	ListBySquad(ctx context.Context, squadID string, includeLeft bool) ([]models.MembershipDetail, error)
	Join(ctx context.Context, req dto.JoinSquadRequest, actor *models.JWTClaims) (*models.Membership, error)
	Leave(ctx context.Context, membershipID string, actor *models.JWTClaims) (*models.Membership, error)
	Remove(ctx context.Context, membershipID string, req dto.RemoveMemberRequest, actor *models.JWTClaims) (*models.Membership, error)
	UpdateRole(ctx context.Context, membershipID string, req dto.UpdateRoleRequest, actor *models.JWTClaims) (*models.Membership, error)
}

// MembershipHandler exposes membership state machine endpoints.
type MembershipHandler struct {
	service membershipService
}

// NewMembershipHandler builds a new handler.
func NewMembershipHandler(service membershipService) *MembershipHandler {
	return &MembershipHandler{service: service}
}

// ListBySquad godoc
// @Summary List the members of a squad
// @Tags Memberships
// @Produce json
// @Param id path string true "Squad ID"
// @Param includeLeft query bool false "Include terminated memberships"
// @Success 200 {object} response.Envelope
// @Router /squads/{id}/members [get]
func (h *MembershipHandler) ListBySquad(c *gin.Context) {
	includeLeft := c.Query("includeLeft") == "true"
	members, err := h.service.ListBySquad(c.Request.Context(), c.Param("id"), includeLeft)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}

// Join godoc
// @Summary Attach a student to a squad directly
// @Tags Memberships
// @Accept json
// @Produce json
// @Param payload body dto.JoinSquadRequest true "Join payload"
// @Success 201 {object} response.Envelope
// @Router /memberships [post]
func (h *MembershipHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.JoinSquadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	membership, err := h.service.Join(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, membership)
}

// Leave godoc
// @Summary Leave a squad voluntarily
// @Tags Memberships
// @Produce json
// @Param id path string true "Membership ID"
// @Success 200 {object} response.Envelope
// @Router /memberships/{id}/leave [post]
func (h *MembershipHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	membership, err := h.service.Leave(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, membership, nil)
}

// Remove godoc
// @Summary Remove a member administratively
// @Tags Memberships
// @Accept json
// @Produce json
// @Param id path string true "Membership ID"
// @Param payload body dto.RemoveMemberRequest true "Removal payload"
// @Success 200 {object} response.Envelope
// @Router /memberships/{id}/remove [post]
func (h *MembershipHandler) Remove(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.RemoveMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid removal payload"))
		return
	}
	membership, err := h.service.Remove(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, membership, nil)
}

// UpdateRole godoc
// @Summary Change a member's role
// @Tags Memberships
// @Accept json
// @Produce json
// @Param id path string true "Membership ID"
// @Param payload body dto.UpdateRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Router /memberships/{id}/role [put]
func (h *MembershipHandler) UpdateRole(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}
	membership, err := h.service.UpdateRole(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, membership, nil)
}
