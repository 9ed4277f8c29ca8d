package status_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/calendar"
	"capplan/internal/domain"
	"capplan/internal/schedule"
	"capplan/internal/status"
)

func day(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }

func resolved(t *testing.T, cal *calendar.Calendar, st domain.Status, days float64, actual *time.Time) domain.ResolvedTask {
	t.Helper()
	sched, err := schedule.Compute(cal, "Build", "Alice", day(4), days)
	require.NoError(t, err)
	return status.Resolve(cal, domain.ResolvedTask{
		Name: "Build", Assignee: "Alice", AssigneeKnown: true,
		Status: st, Schedule: sched, ActualEnd: actual,
	})
}

func TestRulesMatrix(t *testing.T) {
	cases := []struct {
		st     domain.Status
		actual bool
		want   domain.Inclusion
	}{
		{domain.StatusPlanned, false, domain.Inclusion{Capacity: true, Concurrency: true, TaskCount: true}},
		{domain.StatusInProgress, true, domain.Inclusion{Capacity: true, Concurrency: true, TaskCount: true}},
		{domain.StatusComplete, false, domain.Inclusion{Capacity: true, Concurrency: true, TaskCount: true}},
		{domain.StatusComplete, true, domain.Inclusion{UseActualEnd: true, Capacity: true, Concurrency: true, TaskCount: true}},
		{domain.StatusOnHold, false, domain.Inclusion{TaskCount: true}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Rules(tc.st, tc.actual), "%s actual=%v", tc.st, tc.actual)
	}
}

func TestPlannedUsesPlannedEnd(t *testing.T) {
	cal := calendar.New(nil, nil)
	actual := day(20)
	rt := resolved(t, cal, domain.StatusInProgress, 3, &actual)
	assert.Equal(t, day(6), rt.End)
	assert.Nil(t, rt.ActualEnd)
	assert.Len(t, rt.Allocations, 3)
}

func TestCompleteWithoutActualEnd(t *testing.T) {
	cal := calendar.New(nil, nil)
	rt := resolved(t, cal, domain.StatusComplete, 3, nil)
	assert.Equal(t, rt.Schedule.PlannedEnd, rt.End)
	assert.False(t, rt.Inclusion.UseActualEnd)
}

func TestCompleteEarly(t *testing.T) {
	cal := calendar.New(nil, nil)
	actual := day(5)
	rt := resolved(t, cal, domain.StatusComplete, 5, &actual)
	assert.Equal(t, day(5), rt.End)
	assert.Len(t, rt.Allocations, 2)
	assert.Len(t, rt.Schedule.Allocations, 5, "planned schedule is kept")
}

func TestCompleteLate(t *testing.T) {
	cal := calendar.New(nil, nil)
	actual := day(12)
	rt := resolved(t, cal, domain.StatusComplete, 2.5, &actual)
	require.Equal(t, day(12), rt.End)
	// 4, 5, 6 planned; 7, 8, 11, 12 added.
	assert.Len(t, rt.Allocations, 7)
	for _, a := range rt.Allocations {
		assert.Equal(t, 1.0, a.Days)
	}
}

func TestActualEndSnapsBackToWorkingDay(t *testing.T) {
	cal := calendar.New(nil, nil)
	actual := day(10) // Sunday
	rt := resolved(t, cal, domain.StatusComplete, 2, &actual)
	assert.Equal(t, day(8), rt.End)
}

func TestActualEndClampedToStart(t *testing.T) {
	cal := calendar.New(nil, nil)
	actual := day(1)
	rt := resolved(t, cal, domain.StatusComplete, 3, &actual)
	assert.Equal(t, day(4), rt.End)
	assert.Len(t, rt.Allocations, 1)
}

func TestOnHoldExcludedFromCapacity(t *testing.T) {
	cal := calendar.New(nil, nil)
	rt := resolved(t, cal, domain.StatusOnHold, 3, nil)
	assert.False(t, rt.Inclusion.Capacity)
	assert.False(t, rt.Inclusion.Concurrency)
	assert.True(t, rt.Inclusion.TaskCount)
	assert.Equal(t, day(6), rt.End)
}
