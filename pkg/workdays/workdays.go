// Package workdays provides working-day arithmetic over a holiday calendar.
// Saturdays, Sundays, and configured holiday dates are not working days.
package workdays

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar answers working-day questions for a fixed holiday set.
type Calendar struct {
	holidays map[string]struct{}
}

// NewCalendar builds a calendar from holiday dates in YYYY-MM-DD form.
// Malformed entries are rejected.
func NewCalendar(holidays []string) (*Calendar, error) {
	set := make(map[string]struct{}, len(holidays))
	for _, raw := range holidays {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", raw, err)
		}
		set[t.Format(dateLayout)] = struct{}{}
	}
	return &Calendar{holidays: set}, nil
}

// IsWorkingDay reports whether t falls on a working day.
func (c *Calendar) IsWorkingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

// NextWorkingDay returns the first working day strictly after t.
func (c *Calendar) NextWorkingDay(t time.Time) time.Time {
	day := truncateToDay(t)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			return day
		}
	}
}

// EndOfNextWorkingDay returns the last instant of the first working day
// after t. A departure on Friday therefore yields end of Monday unless a
// holiday pushes it further.
func (c *Calendar) EndOfNextWorkingDay(t time.Time) time.Time {
	next := c.NextWorkingDay(t)
	return next.Add(24*time.Hour - time.Nanosecond)
}

// WalkWorkingDays walks forward from start until totalDays working days
// have elapsed, returning the date of the final working day and the date
// on which the markDay-th working day lands. The start date itself counts
// when it is a working day.
func (c *Calendar) WalkWorkingDays(start time.Time, totalDays, markDay int) (end, marked time.Time, err error) {
	if totalDays < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("total working days must be positive, got %d", totalDays)
	}
	if markDay < 1 || markDay > totalDays {
		return time.Time{}, time.Time{}, fmt.Errorf("mark day %d outside range 1..%d", markDay, totalDays)
	}

	day := truncateToDay(start)
	counted := 0
	for {
		if c.IsWorkingDay(day) {
			counted++
			if counted == markDay {
				marked = day
			}
			if counted == totalDays {
				return day, marked, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
