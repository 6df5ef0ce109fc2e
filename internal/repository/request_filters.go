package repository

import (
	"fmt"
	"strings"

	"github.com/noah-isme/sma-squad-api/internal/models"
)

// buildRequestFilter assembles the shared WHERE clause used by the request
// listing queries. The table name is compile-time constant at every call
// site, never user input.
func buildRequestFilter(table string, filter models.RequestFilter) (string, []interface{}) {
	base := "FROM " + table + " WHERE 1=1"
	var conditions []string
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			args = append(args, status)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.SquadID != "" {
		args = append(args, filter.SquadID)
		conditions = append(conditions, fmt.Sprintf("squad_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	return base, args
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
