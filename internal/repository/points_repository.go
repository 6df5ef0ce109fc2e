package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-squad-api/internal/models"
)

// PointsRepository owns the append-only points ledger and the running
// totals derived from it.
type PointsRepository struct {
	db *sqlx.DB
}

// NewPointsRepository constructs the repository.
func NewPointsRepository(db *sqlx.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

// Append records a ledger entry and folds it into the student's running
// total in one transaction.
func (r *PointsRepository) Append(ctx context.Context, entry *models.PointsEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin points tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now

	const insertQuery = `INSERT INTO points_entries (id, student_id, activity_date, points, reason, awarded_by, created_at)
VALUES (:id, :student_id, :activity_date, :points, :reason, :awarded_by, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, entry); err != nil {
		return fmt.Errorf("insert points entry: %w", err)
	}

	const totalQuery = `INSERT INTO student_point_totals (student_id, total, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (student_id) DO UPDATE SET total = student_point_totals.total + EXCLUDED.total, updated_at = EXCLUDED.updated_at`
	if _, err = tx.ExecContext(ctx, totalQuery, entry.StudentID, entry.Points, now); err != nil {
		return fmt.Errorf("update points total: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit points tx: %w", err)
	}
	return nil
}

// ListByStudent returns a student's ledger entries, newest activity first.
func (r *PointsRepository) ListByStudent(ctx context.Context, studentID string, page, size int) ([]models.PointsEntry, int, error) {
	page, size = normalizePage(page, size)
	query := fmt.Sprintf(`SELECT id, student_id, activity_date, points, reason, awarded_by, created_at
FROM points_entries WHERE student_id = $1 ORDER BY activity_date DESC, created_at DESC LIMIT %d OFFSET %d`, size, (page-1)*size)

	var entries []models.PointsEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, 0, fmt.Errorf("list points entries: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM points_entries WHERE student_id = $1`, studentID); err != nil {
		return nil, 0, fmt.Errorf("count points entries: %w", err)
	}
	return entries, total, nil
}

// TotalByStudent returns the running total for a student, zero when the
// student has never been awarded points.
func (r *PointsRepository) TotalByStudent(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COALESCE(total, 0) FROM student_point_totals WHERE student_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("load points total: %w", err)
	}
	return total, nil
}

// SumIndividualInWindow sums ledger points per student for activity dates
// inside the inclusive window.
func (r *PointsRepository) SumIndividualInWindow(ctx context.Context, start, end time.Time) ([]models.StudentWindowPoints, error) {
	const query = `SELECT student_id, COALESCE(SUM(points), 0) AS points
FROM points_entries
WHERE activity_date >= $1 AND activity_date <= $2
GROUP BY student_id`
	var sums []models.StudentWindowPoints
	if err := r.db.SelectContext(ctx, &sums, query, start.UTC(), end.UTC()); err != nil {
		return nil, fmt.Errorf("sum individual points: %w", err)
	}
	return sums, nil
}

// SumSquadInWindow sums window points per squad over the squad's current
// ACTIVE members.
func (r *PointsRepository) SumSquadInWindow(ctx context.Context, start, end time.Time) ([]models.SquadWindowPoints, error) {
	const query = `SELECT m.squad_id, COALESCE(SUM(p.points), 0) AS points
FROM memberships m
JOIN points_entries p ON p.student_id = m.student_id
WHERE m.status = 'ACTIVE' AND p.activity_date >= $1 AND p.activity_date <= $2
GROUP BY m.squad_id`
	var sums []models.SquadWindowPoints
	if err := r.db.SelectContext(ctx, &sums, query, start.UTC(), end.UTC()); err != nil {
		return nil, fmt.Errorf("sum squad points: %w", err)
	}
	return sums, nil
}
