// Package drift measures estimate drift and schedule variance.
package drift

import (
	"math"
	"time"

	"capplan/internal/calendar"
	"capplan/internal/domain"
)

const epsilon = 1e-9

// Compute returns current minus original, and the percentage of original when
// original is positive. It returns nil when there is no drift.
func Compute(original, current float64) *domain.Drift {
	delta := current - original
	if math.Abs(delta) < epsilon {
		return nil
	}
	d := &domain.Drift{Days: delta}
	if original > 0 {
		d.Percent = delta / original * 100
		d.HasPercent = true
	}
	return d
}

// Variance counts the signed working days between the planned end and the
// actual end: positive when late, negative when early.
func Variance(cal *calendar.Calendar, person string, plannedEnd, actualEnd time.Time) domain.Variance {
	plannedEnd, actualEnd = calendar.Day(plannedEnd), calendar.Day(actualEnd)
	switch {
	case actualEnd.After(plannedEnd):
		return domain.Variance{
			Days:      cal.CountWorkingDays(person, plannedEnd.AddDate(0, 0, 1), actualEnd),
			Direction: domain.VarianceLate,
		}
	case actualEnd.Before(plannedEnd):
		return domain.Variance{
			Days:      -cal.CountWorkingDays(person, actualEnd.AddDate(0, 0, 1), plannedEnd),
			Direction: domain.VarianceEarly,
		}
	}
	return domain.Variance{Direction: domain.VarianceOnTime}
}
