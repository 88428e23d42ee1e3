// Package common provides shared utilities across the application.
package common

import (
	"fmt"
	"time"
)

// StalenessResult contains the result of a freshness check.
type StalenessResult struct {
	// IsStale indicates whether the data is past its freshness target and needs refresh.
	IsStale bool
	// NextCheckTime is when the data will become stale if not refreshed.
	NextCheckTime time.Time
	// Reason provides a human-readable explanation for the staleness decision.
	Reason string
}

// DefaultWorkingDays returns Monday to Friday.
func DefaultWorkingDays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

// CheckFreshness determines whether data last refreshed at lastRefreshed is stale
// at now given a service-level target. When workingDays is non-empty, a deadline
// that lands on a non-working day is pushed to the start of the next working day,
// so weekend gaps in market data do not count as staleness.
func CheckFreshness(lastRefreshed, now time.Time, sla time.Duration, workingDays []time.Weekday) StalenessResult {
	if lastRefreshed.IsZero() {
		return StalenessResult{
			IsStale: true,
			Reason:  "never refreshed",
		}
	}

	now = now.UTC()
	lastRefreshed = lastRefreshed.UTC()

	deadline := lastRefreshed.Add(sla)
	if len(workingDays) > 0 && !IsWorkingDay(deadline, workingDays, nil) {
		deadline = GetNextTradingDay(deadline, workingDays, nil)
	}

	if now.After(deadline) {
		return StalenessResult{
			IsStale: true,
			Reason: fmt.Sprintf(
				"last refreshed %s, freshness target %s exceeded at %s",
				lastRefreshed.Format(time.RFC3339),
				sla,
				deadline.Format(time.RFC3339),
			),
		}
	}

	return StalenessResult{
		IsStale:       false,
		NextCheckTime: deadline,
		Reason: fmt.Sprintf(
			"fresh (last refreshed %s), stale after %s",
			lastRefreshed.Format(time.RFC3339),
			deadline.Format(time.RFC3339),
		),
	}
}

// IsWorkingDay checks if a given date is a working day.
// It accounts for both weekends (based on workingDays) and holidays.
func IsWorkingDay(t time.Time, workingDays []time.Weekday, holidays []time.Time) bool {
	dayOfWeek := t.Weekday()
	isWorkDay := false
	for _, wd := range workingDays {
		if wd == dayOfWeek {
			isWorkDay = true
			break
		}
	}
	if !isWorkDay {
		return false
	}

	tDate := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for _, h := range holidays {
		hDate := time.Date(h.Year(), h.Month(), h.Day(), 0, 0, 0, 0, time.UTC)
		if tDate.Equal(hDate) {
			return false
		}
	}

	return true
}

// GetNextTradingDay returns the start of the next working day after the given time.
func GetNextTradingDay(t time.Time, workingDays []time.Weekday, holidays []time.Time) time.Time {
	current := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	// Walk forward up to 10 days (handles long holiday periods)
	for i := 0; i < 10; i++ {
		if IsWorkingDay(current, workingDays, holidays) {
			return current
		}
		current = current.AddDate(0, 0, 1)
	}

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
