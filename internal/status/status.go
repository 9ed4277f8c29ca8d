// Package status applies the status matrix to a scheduled task.
package status

import (
	"capplan/internal/calendar"
	"capplan/internal/domain"
	"capplan/internal/schedule"
)

// Rules returns the inclusion row for st. hasActualEnd only matters for
// Complete tasks.
func Rules(st domain.Status, hasActualEnd bool) domain.Inclusion {
	switch st {
	case domain.StatusPlanned, domain.StatusInProgress:
		return domain.Inclusion{Capacity: true, Concurrency: true, TaskCount: true}
	case domain.StatusComplete:
		return domain.Inclusion{UseActualEnd: hasActualEnd, Capacity: true, Concurrency: true, TaskCount: true}
	case domain.StatusOnHold:
		return domain.Inclusion{TaskCount: true}
	}
	return domain.Inclusion{}
}

// Resolve fills End, Allocations and Inclusion on t. t.Schedule, t.Status,
// t.Assignee and t.ActualEnd must already be set; ActualEnd is ignored unless
// the task is Complete.
//
// A Complete task's actual end is snapped back to a working day and clamped
// to the start. Finishing early drops the planned allocations after the
// actual end. Finishing late tops the last planned day up to a full day and
// adds a full day for every working day through the actual end.
func Resolve(cal *calendar.Calendar, t domain.ResolvedTask) domain.ResolvedTask {
	if t.Status != domain.StatusComplete {
		t.ActualEnd = nil
	}
	t.Inclusion = Rules(t.Status, t.ActualEnd != nil)
	t.End = t.Schedule.PlannedEnd
	t.Allocations = t.Schedule.Allocations
	if !t.Inclusion.UseActualEnd {
		return t
	}

	assignee := t.Assignee
	if !t.AssigneeKnown {
		assignee = ""
	}
	actual := cal.PrevWorkingDay(assignee, *t.ActualEnd)
	if actual.Before(t.Schedule.Start) {
		actual = t.Schedule.Start
	}
	t.ActualEnd = &actual
	t.End = actual

	switch {
	case actual.Before(t.Schedule.PlannedEnd):
		t.Allocations = schedule.Truncate(t.Schedule.Allocations, actual)
	case actual.After(t.Schedule.PlannedEnd):
		t.Allocations = schedule.Extend(cal, assignee, t.Schedule.Allocations, actual)
	}
	return t
}
