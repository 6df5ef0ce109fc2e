package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/service"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/response"
)

type eligibilityService interface {
	ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error)
	ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error)
}

type eligibilityExportService interface {
	Generate(ctx context.Context, phaseID, scope, format string) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// EligibilityHandler exposes per-phase eligibility snapshots and report exports.
type EligibilityHandler struct {
	service eligibilityService
	exports eligibilityExportService
}

// NewEligibilityHandler builds a new handler.
func NewEligibilityHandler(service eligibilityService, exports eligibilityExportService) *EligibilityHandler {
	return &EligibilityHandler{service: service, exports: exports}
}

// ListIndividuals godoc
// @Summary List individual eligibility snapshots for a phase
// @Tags Eligibility
// @Produce json
// @Param id path string true "Phase ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id}/eligibility/individuals [get]
func (h *EligibilityHandler) ListIndividuals(c *gin.Context) {
	rows, err := h.service.ListIndividuals(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// ListSquads godoc
// @Summary List squad eligibility snapshots for a phase
// @Tags Eligibility
// @Produce json
// @Param id path string true "Phase ID"
// @Success 200 {object} response.Envelope
// @Router /phases/{id}/eligibility/squads [get]
func (h *EligibilityHandler) ListSquads(c *gin.Context) {
	rows, err := h.service.ListSquads(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Export godoc
// @Summary Generate a downloadable eligibility report
// @Tags Eligibility
// @Produce json
// @Param id path string true "Phase ID"
// @Param scope query string false "individuals or squads"
// @Param format query string false "csv or pdf"
// @Success 201 {object} response.Envelope
// @Router /phases/{id}/eligibility/export [post]
func (h *EligibilityHandler) Export(c *gin.Context) {
	scope := c.DefaultQuery("scope", service.ExportScopeSquads)
	format := c.DefaultQuery("format", service.ExportFormatCSV)
	result, err := h.exports.Generate(c.Request.Context(), c.Param("id"), scope, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a previously generated eligibility report
// @Tags Eligibility
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200
// @Router /exports/{token} [get]
func (h *EligibilityHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, relPath, err := h.exports.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stat export file"))
		return
	}
	mimeType := "text/csv"
	if filepath.Ext(relPath) == ".pdf" {
		mimeType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), mimeType, file, nil)
}
