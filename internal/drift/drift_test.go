package drift_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/calendar"
	"capplan/internal/domain"
	"capplan/internal/drift"
)

func day(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }

func TestCompute(t *testing.T) {
	assert.Nil(t, drift.Compute(5, 5))

	d := drift.Compute(4, 6)
	require.NotNil(t, d)
	assert.InDelta(t, 2, d.Days, 1e-9)
	assert.True(t, d.HasPercent)
	assert.InDelta(t, 50, d.Percent, 1e-9)

	d = drift.Compute(10, 7.5)
	require.NotNil(t, d)
	assert.InDelta(t, -25, d.Percent, 1e-9)

	d = drift.Compute(0, 3)
	require.NotNil(t, d)
	assert.False(t, d.HasPercent)
	assert.InDelta(t, 3, d.Days, 1e-9)
}

func TestVariance(t *testing.T) {
	cal := calendar.New([]domain.PublicHoliday{{Date: day(11)}}, nil)

	v := drift.Variance(cal, "Alice", day(7), day(12))
	assert.Equal(t, domain.Variance{Days: 2, Direction: domain.VarianceLate}, v)

	v = drift.Variance(cal, "Alice", day(12), day(7))
	assert.Equal(t, domain.Variance{Days: -2, Direction: domain.VarianceEarly}, v)

	v = drift.Variance(cal, "Alice", day(7), day(7))
	assert.Equal(t, domain.Variance{Direction: domain.VarianceOnTime}, v)
}
