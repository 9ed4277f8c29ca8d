package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"capplan/internal/calendar"
	"capplan/internal/domain"
	"capplan/internal/schedule"
)

func day(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }

func sum(allocs []domain.Allocation) float64 {
	days := make([]float64, len(allocs))
	for i, a := range allocs {
		days[i] = a.Days
	}
	return floats.Sum(days)
}

func TestComputeSkipsWeekend(t *testing.T) {
	cal := calendar.New(nil, nil)
	st, err := schedule.Compute(cal, "Build", "Alice", day(8), 3)
	require.NoError(t, err)
	assert.Equal(t, day(8), st.Start)
	assert.Equal(t, day(12), st.PlannedEnd)
	assert.Equal(t, []domain.Allocation{{Date: day(8), Days: 1}, {Date: day(11), Days: 1}, {Date: day(12), Days: 1}}, st.Allocations)
}

func TestComputeSnapsStartForward(t *testing.T) {
	cal := calendar.New(nil, []domain.LeaveInterval{{Person: "Alice", Start: day(11), End: day(12)}})
	st, err := schedule.Compute(cal, "Build", "Alice", day(9), 1)
	require.NoError(t, err)
	assert.Equal(t, day(13), st.Start)
	assert.Equal(t, day(13), st.PlannedEnd)
}

func TestComputeFractional(t *testing.T) {
	cal := calendar.New([]domain.PublicHoliday{{Date: day(5)}}, nil)
	st, err := schedule.Compute(cal, "Build", "", day(4), 2.5)
	require.NoError(t, err)
	require.Len(t, st.Allocations, 3)
	assert.Equal(t, day(7), st.PlannedEnd)
	assert.InDelta(t, 0.5, st.Allocations[2].Days, 1e-9)
	assert.InDelta(t, 2.5, sum(st.Allocations), 1e-6)

	st, err = schedule.Compute(cal, "Tiny", "", day(4), 0.25)
	require.NoError(t, err)
	assert.Equal(t, st.Start, st.PlannedEnd)
	assert.InDelta(t, 0.25, sum(st.Allocations), 1e-9)
}

func TestComputeSumInvariant(t *testing.T) {
	cal := calendar.New(nil, nil)
	for _, d := range []float64{0.1, 1, 2.3, 4.75, 9.9, 17} {
		st, err := schedule.Compute(cal, "x", "", day(1), d)
		require.NoError(t, err)
		assert.InDelta(t, d, sum(st.Allocations), 1e-6, "duration %v", d)
		for _, a := range st.Allocations {
			assert.True(t, cal.IsWorkingDay("", a.Date))
			assert.LessOrEqual(t, a.Days, 1.0)
		}
	}
}

func TestComputeRejectsNonPositive(t *testing.T) {
	cal := calendar.New(nil, nil)
	for _, d := range []float64{0, -2} {
		_, err := schedule.Compute(cal, "x", "", day(4), d)
		assert.ErrorIs(t, err, schedule.ErrNonPositiveDuration)
	}
}

func TestExtendAndTruncate(t *testing.T) {
	cal := calendar.New(nil, nil)
	st, err := schedule.Compute(cal, "x", "", day(4), 2.5)
	require.NoError(t, err)

	ext := schedule.Extend(cal, "", st.Allocations, day(11))
	assert.Len(t, ext, 6)
	assert.InDelta(t, 6.0, sum(ext), 1e-9)
	assert.InDelta(t, 0.5, st.Allocations[2].Days, 1e-9, "input is not modified")

	tr := schedule.Truncate(st.Allocations, day(5))
	assert.Len(t, tr, 2)
}
