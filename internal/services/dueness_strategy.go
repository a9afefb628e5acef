// Package services orchestrates the ledger engine, the persistence
// gateway, the reconcile queue and the local snapshot cache.
//
// This file implements the dueness check for recurring transactions.
// Each frequency has its own strategy deciding whether a template should
// materialize a new instance.
package services

import (
	"fmt"
	"time"

	"plata/internal/core"
)

// DuenessChecker decides whether a recurring transaction is due given
// when it last materialized and when its schedule started.
type DuenessChecker interface {
	IsDue(lastRun, now, start time.Time) bool
}

// DailyChecker is due once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(lastRun, now, _ time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return lastRun.Format("2006-01-02") != now.Format("2006-01-02")
}

// WeeklyChecker is due when 7 or more days have passed since the last run.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(lastRun, now, _ time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun).Hours()/24 >= 7
}

// MonthlyChecker is due once per month, on the start date's day of month,
// clamped to the last day of shorter months.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(lastRun, now, start time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	if lastRun.Year() == now.Year() && lastRun.Month() == now.Month() {
		return false
	}

	targetDay := start.Day()
	lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if targetDay > lastDayOfMonth {
		targetDay = lastDayOfMonth
	}
	return now.Day() >= targetDay
}

// YearlyChecker is due once per year, on the start date's month and day.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(lastRun, now, start time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	if lastRun.Year() == now.Year() {
		return false
	}

	if now.Month() < start.Month() {
		return false
	}
	if now.Month() == start.Month() {
		targetDay := start.Day()
		lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		if targetDay > lastDayOfMonth {
			targetDay = lastDayOfMonth
		}
		return now.Day() >= targetDay
	}
	return true
}

var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

// GetDuenessChecker returns the checker for a frequency.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return checker, nil
}
