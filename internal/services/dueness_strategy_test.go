package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plata/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestDailyChecker(t *testing.T) {
	c := DailyChecker{}
	require.True(t, c.IsDue(time.Time{}, day(2026, 8, 31), time.Time{}))
	require.False(t, c.IsDue(day(2026, 8, 31), day(2026, 8, 31), time.Time{}))
	require.True(t, c.IsDue(day(2026, 8, 30), day(2026, 8, 31), time.Time{}))
}

func TestWeeklyChecker(t *testing.T) {
	c := WeeklyChecker{}
	require.True(t, c.IsDue(time.Time{}, day(2026, 8, 31), time.Time{}))
	require.False(t, c.IsDue(day(2026, 8, 28), day(2026, 8, 31), time.Time{}))
	require.True(t, c.IsDue(day(2026, 8, 24), day(2026, 8, 31), time.Time{}))
}

func TestMonthlyChecker(t *testing.T) {
	c := MonthlyChecker{}
	start := day(2026, 1, 15)

	require.True(t, c.IsDue(time.Time{}, day(2026, 8, 31), start))
	// Already ran this month.
	require.False(t, c.IsDue(day(2026, 8, 15), day(2026, 8, 31), start))
	// New month, before the target day.
	require.False(t, c.IsDue(day(2026, 7, 15), day(2026, 8, 10), start))
	// New month, on the target day.
	require.True(t, c.IsDue(day(2026, 7, 15), day(2026, 8, 15), start))
}

func TestMonthlyCheckerClampsShortMonths(t *testing.T) {
	c := MonthlyChecker{}
	start := day(2026, 1, 31)

	// February 2026 has 28 days; the 31st clamps to the 28th.
	require.True(t, c.IsDue(day(2026, 1, 31), day(2026, 2, 28), start))
	require.False(t, c.IsDue(day(2026, 1, 31), day(2026, 2, 27), start))
}

func TestYearlyChecker(t *testing.T) {
	c := YearlyChecker{}
	start := day(2024, 3, 10)

	require.True(t, c.IsDue(time.Time{}, day(2026, 8, 31), start))
	require.False(t, c.IsDue(day(2026, 3, 10), day(2026, 12, 1), start))
	require.False(t, c.IsDue(day(2025, 3, 10), day(2026, 2, 1), start))
	require.False(t, c.IsDue(day(2025, 3, 10), day(2026, 3, 9), start))
	require.True(t, c.IsDue(day(2025, 3, 10), day(2026, 3, 10), start))
	require.True(t, c.IsDue(day(2025, 3, 10), day(2026, 4, 1), start))
}

func TestGetDuenessChecker(t *testing.T) {
	for _, f := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		checker, err := GetDuenessChecker(f)
		require.NoError(t, err)
		require.NotNil(t, checker)
	}

	_, err := GetDuenessChecker("fortnightly")
	require.Error(t, err)
}
