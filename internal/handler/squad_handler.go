package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/response"
)

type squadService interface {
	List(ctx context.Context, query dto.SquadListQuery) ([]models.Squad, int, error)
	Get(ctx context.Context, id string) (*dto.SquadDetail, []models.MembershipDetail, error)
	Create(ctx context.Context, req dto.CreateSquadRequest, actor *models.JWTClaims) (*models.Squad, error)
	Freeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error)
	Unfreeze(ctx context.Context, id string, actor *models.JWTClaims) (*models.Squad, error)
}

// SquadHandler exposes squad lifecycle endpoints.
type SquadHandler struct {
	service squadService
}

// NewSquadHandler builds a new handler.
func NewSquadHandler(service squadService) *SquadHandler {
	return &SquadHandler{service: service}
}

// List godoc
// @Summary List squads
// @Tags Squads
// @Produce json
// @Param tier query string false "Tier filter (D/C/B/A)"
// @Param status query string false "Status filter"
// @Param search query string false "Code or name search"
// @Success 200 {object} response.Envelope
// @Router /squads [get]
func (h *SquadHandler) List(c *gin.Context) {
	query := dto.SquadListQuery{
		Tier:      c.Query("tier"),
		Status:    c.Query("status"),
		Search:    c.Query("search"),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "pageSize", 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	squads, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, squads, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a squad with its roster
// @Tags Squads
// @Produce json
// @Param id path string true "Squad ID"
// @Success 200 {object} response.Envelope
// @Router /squads/{id} [get]
func (h *SquadHandler) Get(c *gin.Context) {
	detail, members, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	payload := gin.H{"squad": detail, "members": members}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Create godoc
// @Summary Register a new squad
// @Tags Squads
// @Accept json
// @Produce json
// @Param payload body dto.CreateSquadRequest true "Squad payload"
// @Success 201 {object} response.Envelope
// @Router /squads [post]
func (h *SquadHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	var req dto.CreateSquadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid squad payload"))
		return
	}
	squad, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, squad)
}

// Freeze godoc
// @Summary Freeze a squad
// @Tags Squads
// @Produce json
// @Param id path string true "Squad ID"
// @Success 200 {object} response.Envelope
// @Router /squads/{id}/freeze [post]
func (h *SquadHandler) Freeze(c *gin.Context) {
	claims := claimsFromContext(c)
	squad, err := h.service.Freeze(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, squad, nil)
}

// Unfreeze godoc
// @Summary Unfreeze a squad
// @Tags Squads
// @Produce json
// @Param id path string true "Squad ID"
// @Success 200 {object} response.Envelope
// @Router /squads/{id}/unfreeze [post]
func (h *SquadHandler) Unfreeze(c *gin.Context) {
	claims := claimsFromContext(c)
	squad, err := h.service.Unfreeze(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, squad, nil)
}

// intQuery parses an integer query parameter with a fallback.
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
