package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"capplan/internal/calendar"
	"capplan/internal/domain"
)

// March 2024: the 4th is a Monday.
func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func testCalendar() *calendar.Calendar {
	return calendar.New(
		[]domain.PublicHoliday{{Date: day(time.March, 6), Name: "Founders Day"}},
		[]domain.LeaveInterval{
			{Person: "Alice", Start: day(time.March, 5), End: day(time.March, 11), Type: "Annual"},
			{Person: "Bob", Start: day(time.March, 12), End: day(time.March, 10)},
		},
	)
}

func TestWorkingDays(t *testing.T) {
	cal := testCalendar()
	assert.True(t, cal.IsWorkingDay("Alice", day(time.March, 4)))
	assert.False(t, cal.IsWorkingDay("Alice", day(time.March, 5)), "leave")
	assert.False(t, cal.IsWorkingDay("Bob", day(time.March, 6)), "holiday")
	assert.False(t, cal.IsWorkingDay("Bob", day(time.March, 9)), "weekend")
	assert.True(t, cal.IsWorkingDay("bob", day(time.March, 12)), "inverted leave is ignored")
	assert.True(t, cal.IsWorkingDay("", day(time.March, 5)))
	assert.True(t, cal.IsWorkingDay("Alice", time.Date(2024, 3, 4, 15, 30, 0, 0, time.FixedZone("x", 3600))))
}

func TestLeaveExpansionSkipsWeekendsAndHolidays(t *testing.T) {
	cal := testCalendar()
	assert.Equal(t, []time.Time{day(time.March, 5), day(time.March, 7), day(time.March, 8), day(time.March, 11)}, cal.LeaveDays("ALICE"))
	assert.Empty(t, cal.LeaveDays("Bob"))
}

func TestNextAndPrevWorkingDay(t *testing.T) {
	cal := testCalendar()
	assert.Equal(t, day(time.March, 12), cal.NextWorkingDay("Alice", day(time.March, 5)))
	assert.Equal(t, day(time.March, 4), cal.NextWorkingDay("Alice", day(time.March, 4)))
	assert.Equal(t, day(time.March, 4), cal.PrevWorkingDay("Alice", day(time.March, 10)))
	assert.Equal(t, day(time.March, 11), cal.NextWorkingDay("Bob", day(time.March, 9)))
}

func TestCountWorkingDays(t *testing.T) {
	cal := testCalendar()
	assert.Equal(t, 4, cal.CountWorkingDays("Bob", day(time.March, 4), day(time.March, 8)))
	assert.Equal(t, 1, cal.CountWorkingDays("Alice", day(time.March, 4), day(time.March, 8)))
	assert.Equal(t, 0, cal.CountWorkingDays("Bob", day(time.March, 8), day(time.March, 4)))
	// March 2024 has 21 weekdays, one of which is a holiday.
	assert.Equal(t, 20, cal.WorkingDaysInMonth("Bob", 2024, time.March))
	assert.Equal(t, 16, cal.WorkingDaysInMonth("Alice", 2024, time.March))
}

func TestLostWeekdays(t *testing.T) {
	cal := testCalendar()
	assert.Equal(t, 4, cal.LostWeekdays("Alice", day(time.March, 4), day(time.March, 10)))
	assert.Equal(t, 1, cal.LostWeekdays("Bob", day(time.March, 4), day(time.March, 10)))
}

func TestBucketHelpers(t *testing.T) {
	assert.Equal(t, day(time.March, 4), calendar.WeekStart(day(time.March, 10)))
	assert.Equal(t, day(time.March, 4), calendar.WeekStart(day(time.March, 4)))
	assert.Equal(t, day(time.March, 1), calendar.MonthStart(day(time.March, 31)))
	assert.Equal(t, 21, calendar.Weekdays(day(time.March, 1), day(time.March, 31)))
}
