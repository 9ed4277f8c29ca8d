// Package schedule expands a task's duration onto working days.
package schedule

import (
	"errors"
	"math"
	"time"

	"capplan/internal/calendar"
	"capplan/internal/domain"
)

var ErrNonPositiveDuration = errors.New("task duration must be greater than zero")

// epsilon absorbs float error so 2.3 days does not leave a 1e-16 tail.
const epsilon = 1e-9

// Compute places whole days on consecutive working days starting from the
// first working day on or after start, with any fractional remainder on the
// final day. The allocations always sum to days.
func Compute(cal *calendar.Calendar, task, assignee string, start time.Time, days float64) (domain.ScheduledTask, error) {
	if !(days > 0) || math.IsInf(days, 1) {
		return domain.ScheduledTask{}, ErrNonPositiveDuration
	}
	d := cal.NextWorkingDay(assignee, start)
	out := domain.ScheduledTask{Task: task, Start: d}
	remaining := days
	for remaining > epsilon {
		if cal.IsWorkingDay(assignee, d) {
			a := math.Min(1, remaining)
			out.Allocations = append(out.Allocations, domain.Allocation{Date: d, Days: a})
			out.PlannedEnd = d
			remaining -= a
		}
		d = d.AddDate(0, 0, 1)
	}
	return out, nil
}

// Extend adds full-day allocations on every working day after the last
// existing allocation up to and including end. The final existing allocation
// is topped up to a full day first.
func Extend(cal *calendar.Calendar, assignee string, allocs []domain.Allocation, end time.Time) []domain.Allocation {
	out := append([]domain.Allocation(nil), allocs...)
	if len(out) == 0 {
		return out
	}
	out[len(out)-1].Days = 1
	for d := out[len(out)-1].Date.AddDate(0, 0, 1); !d.After(calendar.Day(end)); d = d.AddDate(0, 0, 1) {
		if cal.IsWorkingDay(assignee, d) {
			out = append(out, domain.Allocation{Date: d, Days: 1})
		}
	}
	return out
}

// Truncate keeps the allocations dated on or before end.
func Truncate(allocs []domain.Allocation, end time.Time) []domain.Allocation {
	end = calendar.Day(end)
	out := make([]domain.Allocation, 0, len(allocs))
	for _, a := range allocs {
		if a.Date.After(end) {
			break
		}
		out = append(out, a)
	}
	return out
}
