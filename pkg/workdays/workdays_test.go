package workdays

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewCalendarRejectsMalformedDates(t *testing.T) {
	_, err := NewCalendar([]string{"2026-13-99"})
	require.Error(t, err)
}

func TestIsWorkingDaySkipsWeekendsAndHolidays(t *testing.T) {
	cal, err := NewCalendar([]string{"2026-08-17"})
	require.NoError(t, err)

	require.True(t, cal.IsWorkingDay(date(2026, time.August, 14)))  // Friday
	require.False(t, cal.IsWorkingDay(date(2026, time.August, 15))) // Saturday
	require.False(t, cal.IsWorkingDay(date(2026, time.August, 16))) // Sunday
	require.False(t, cal.IsWorkingDay(date(2026, time.August, 17))) // holiday (Monday)
	require.True(t, cal.IsWorkingDay(date(2026, time.August, 18)))
}

func TestEndOfNextWorkingDayFridayLeave(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	// Leaving on Friday 2026-08-14: next working day is Monday 2026-08-17.
	deadline := cal.EndOfNextWorkingDay(time.Date(2026, time.August, 14, 15, 30, 0, 0, time.UTC))
	require.Equal(t, 17, deadline.Day())
	require.Equal(t, time.Monday, deadline.Weekday())
	require.True(t, deadline.Before(date(2026, time.August, 18)))
	require.True(t, deadline.After(date(2026, time.August, 17)))
}

func TestEndOfNextWorkingDaySkipsHolidayMonday(t *testing.T) {
	cal, err := NewCalendar([]string{"2026-08-17"})
	require.NoError(t, err)

	deadline := cal.EndOfNextWorkingDay(date(2026, time.August, 14))
	require.Equal(t, time.Tuesday, deadline.Weekday())
	require.Equal(t, 18, deadline.Day())
}

func TestWalkWorkingDays(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	// Monday 2026-08-03 start, 10 working days, change-day on day 5.
	end, marked, err := cal.WalkWorkingDays(date(2026, time.August, 3), 10, 5)
	require.NoError(t, err)
	require.Equal(t, date(2026, time.August, 14), end)   // second Friday
	require.Equal(t, date(2026, time.August, 7), marked) // first Friday
}

func TestWalkWorkingDaysSkipsWeekendStart(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	// Saturday start does not count as a working day.
	end, marked, err := cal.WalkWorkingDays(date(2026, time.August, 1), 1, 1)
	require.NoError(t, err)
	require.Equal(t, date(2026, time.August, 3), end)
	require.Equal(t, end, marked)
}

func TestWalkWorkingDaysValidatesArguments(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	_, _, err = cal.WalkWorkingDays(date(2026, time.August, 3), 0, 1)
	require.Error(t, err)
	_, _, err = cal.WalkWorkingDays(date(2026, time.August, 3), 5, 6)
	require.Error(t, err)
}
