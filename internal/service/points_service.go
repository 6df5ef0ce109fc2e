package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-squad-api/internal/dto"
	"github.com/noah-isme/sma-squad-api/internal/models"
	appErrors "github.com/noah-isme/sma-squad-api/pkg/errors"
)

type pointsRepository interface {
	Append(ctx context.Context, entry *models.PointsEntry) error
	ListByStudent(ctx context.Context, studentID string, page, size int) ([]models.PointsEntry, int, error)
	TotalByStudent(ctx context.Context, studentID string) (int, error)
}

type pointsStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type pointsAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PointsService maintains the append-only points ledger that feeds phase
// eligibility evaluation.
type PointsService struct {
	points    pointsRepository
	students  pointsStudentReader
	audit     pointsAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPointsService constructs a PointsService.
func NewPointsService(points pointsRepository, students pointsStudentReader, audit pointsAuditLogger, validate *validator.Validate, logger *zap.Logger) *PointsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointsService{
		points:    points,
		students:  students,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// Award records a ledger entry for a student. Admin only; entries are never
// edited or deleted afterwards.
func (s *PointsService) Award(ctx context.Context, req dto.AwardPointsRequest, actor *models.JWTClaims) (*models.PointsEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid points payload")
	}
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not active")
	}

	activityDate, err := time.ParseInLocation("2006-01-02", req.ActivityDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "activity date must be YYYY-MM-DD")
	}

	entry := &models.PointsEntry{
		StudentID:    req.StudentID,
		ActivityDate: activityDate,
		Points:       req.Points,
		Reason:       req.Reason,
		AwardedBy:    actor.UserID,
	}
	if err := s.points.Append(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record points")
	}

	s.emitAudit(ctx, actor, entry)
	return entry, nil
}

// ListByStudent returns a student's ledger with the running total.
func (s *PointsService) ListByStudent(ctx context.Context, studentID string, page, size int) ([]models.PointsEntry, int, int, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, 0, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	entries, total, err := s.points.ListByStudent(ctx, studentID, page, size)
	if err != nil {
		return nil, 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list points")
	}
	runningTotal, err := s.points.TotalByStudent(ctx, studentID)
	if err != nil {
		return nil, 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load points total")
	}
	return entries, total, runningTotal, nil
}

func (s *PointsService) emitAudit(ctx context.Context, actor *models.JWTClaims, entry *models.PointsEntry) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(entry)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionPointsAward,
		Resource:   "points_entry",
		ResourceID: &entry.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "points-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record points audit", zap.Error(err))
	}
}
