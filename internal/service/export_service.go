package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
	"github.com/noah-isme/sma-squad-api/pkg/export"
	"github.com/noah-isme/sma-squad-api/pkg/storage"
)

const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"

	ExportScopeIndividuals = "individuals"
	ExportScopeSquads      = "squads"
)

type exportEligibilityReader interface {
	ListIndividuals(ctx context.Context, phaseID string) ([]models.IndividualEligibility, error)
	ListSquads(ctx context.Context, phaseID string) ([]models.SquadEligibility, error)
}

type exportPhaseReader interface {
	FindByID(ctx context.Context, id string) (*models.Phase, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportServiceConfig tunes export behaviour.
type ExportServiceConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string    `json:"-"`
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	Format       string    `json:"format"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExportService renders phase eligibility snapshots into downloadable
// CSV or PDF reports behind signed URLs.
type ExportService struct {
	eligibility exportEligibilityReader
	phases      exportPhaseReader
	storage     exportFileStorage
	csv         csvRenderer
	pdf         pdfRenderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         ExportServiceConfig
}

// NewExportService constructs an ExportService.
func NewExportService(eligibility exportEligibilityReader, phases exportPhaseReader, store exportFileStorage, signer *storage.SignedURLSigner, cfg ExportServiceConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		eligibility: eligibility,
		phases:      phases,
		storage:     store,
		csv:         csv,
		pdf:         pdf,
		signer:      signer,
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate builds the eligibility dataset for a phase and stores the rendered report.
func (s *ExportService) Generate(ctx context.Context, phaseID, scope, format string) (*ExportResult, error) {
	phase, err := s.phases.FindByID(ctx, phaseID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "phase not found")
	}

	dataset, title, err := s.buildDataset(ctx, phase, scope)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render eligibility report")
	}

	filename := s.buildFilename(phase, scope, format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store eligibility report")
	}

	token, expiresAt, err := s.signer.Generate(phase.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign download token")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a download token and returns a handle to the stored report.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, relPath, nil
}

// Cleanup removes files older than ttl (defaults to the configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildDataset(ctx context.Context, phase *models.Phase, scope string) (export.Dataset, string, error) {
	switch scope {
	case ExportScopeIndividuals:
		return s.buildIndividualDataset(ctx, phase)
	case ExportScopeSquads:
		return s.buildSquadDataset(ctx, phase)
	default:
		return export.Dataset{}, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export scope %q", scope))
	}
}

func (s *ExportService) buildIndividualDataset(ctx context.Context, phase *models.Phase) (export.Dataset, string, error) {
	rows, err := s.eligibility.ListIndividuals(ctx, phase.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student ID":   row.StudentID,
			"Points":       fmt.Sprintf("%d", row.Points),
			"Eligible":     boolLabel(row.IsEligible),
			"Reason":       row.ReasonCode,
			"Evaluated At": row.EvaluatedAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Points", "Eligible", "Reason", "Evaluated At"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Individual Eligibility %s", phase.Name)
	return dataset, title, nil
}

func (s *ExportService) buildSquadDataset(ctx context.Context, phase *models.Phase) (export.Dataset, string, error) {
	rows, err := s.eligibility.ListSquads(ctx, phase.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Squad ID":     row.SquadID,
			"Tier":         string(row.Tier),
			"Points":       fmt.Sprintf("%d", row.Points),
			"Eligible":     boolLabel(row.IsEligible),
			"Reason":       row.ReasonCode,
			"Evaluated At": row.EvaluatedAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Squad ID", "Tier", "Points", "Eligible", "Reason", "Evaluated At"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Squad Eligibility %s", phase.Name)
	return dataset, title, nil
}

func (s *ExportService) buildFilename(phase *models.Phase, scope, format string) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("eligibility_%s_%s_%s.%s", scope, sanitizeFilename(phase.Name), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func boolLabel(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
