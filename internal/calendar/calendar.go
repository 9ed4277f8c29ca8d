// Package calendar answers working-day questions for a team: weekends, public
// holidays and per-person leave.
package calendar

import (
	"sort"
	"strings"
	"time"

	"capplan/internal/domain"
)

// Day truncates t to midnight UTC of its calendar date so values can be
// compared and used as map keys.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WeekStart returns the Monday on or before d.
func WeekStart(d time.Time) time.Time {
	d = Day(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func MonthStart(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Weekdays counts Monday..Friday dates in [from, to].
func Weekdays(from, to time.Time) int {
	n := 0
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			n++
		}
	}
	return n
}

type daySet map[time.Time]struct{}

// Calendar is immutable once built and safe for concurrent readers.
type Calendar struct {
	holidays daySet
	leave    map[string]daySet
}

// New builds a calendar. Leave intervals are expanded to the weekdays they
// cover that are not public holidays; intervals ending before they start are
// ignored. Person names are matched case-insensitively.
func New(holidays []domain.PublicHoliday, leave []domain.LeaveInterval) *Calendar {
	c := &Calendar{holidays: daySet{}, leave: map[string]daySet{}}
	for _, h := range holidays {
		if h.Date.IsZero() {
			continue
		}
		c.holidays[Day(h.Date)] = struct{}{}
	}
	for _, l := range leave {
		if l.Start.IsZero() || l.End.IsZero() || l.End.Before(l.Start) {
			continue
		}
		key := personKey(l.Person)
		set, ok := c.leave[key]
		if !ok {
			set = daySet{}
			c.leave[key] = set
		}
		for d := Day(l.Start); !d.After(Day(l.End)); d = d.AddDate(0, 0, 1) {
			if IsWeekend(d) || c.IsHoliday(d) {
				continue
			}
			set[d] = struct{}{}
		}
	}
	return c
}

func personKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (c *Calendar) IsHoliday(d time.Time) bool {
	_, ok := c.holidays[Day(d)]
	return ok
}

// OnLeave reports whether person has a leave day on d. Weekends and holidays
// are never leave days.
func (c *Calendar) OnLeave(person string, d time.Time) bool {
	set, ok := c.leave[personKey(person)]
	if !ok {
		return false
	}
	_, on := set[Day(d)]
	return on
}

// IsWorkingDay is false on weekends, public holidays and the person's leave.
// An empty person name checks only the global calendar.
func (c *Calendar) IsWorkingDay(person string, d time.Time) bool {
	d = Day(d)
	if IsWeekend(d) || c.IsHoliday(d) {
		return false
	}
	return !c.OnLeave(person, d)
}

// NextWorkingDay returns d itself when it is a working day, otherwise the
// first working day after it.
func (c *Calendar) NextWorkingDay(person string, d time.Time) time.Time {
	d = Day(d)
	for !c.IsWorkingDay(person, d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevWorkingDay returns d itself when it is a working day, otherwise the
// last working day before it.
func (c *Calendar) PrevWorkingDay(person string, d time.Time) time.Time {
	d = Day(d)
	for !c.IsWorkingDay(person, d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// CountWorkingDays counts working days in [from, to]. It is zero when to is
// before from.
func (c *Calendar) CountWorkingDays(person string, from, to time.Time) int {
	n := 0
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if c.IsWorkingDay(person, d) {
			n++
		}
	}
	return n
}

// WorkingDaysInMonth counts the person's working days in the given month.
func (c *Calendar) WorkingDaysInMonth(person string, year int, month time.Month) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return c.CountWorkingDays(person, first, first.AddDate(0, 1, -1))
}

// LostWeekdays counts weekdays in [from, to] the person cannot work because
// of a public holiday or leave.
func (c *Calendar) LostWeekdays(person string, from, to time.Time) int {
	n := 0
	for d := Day(from); !d.After(Day(to)); d = d.AddDate(0, 0, 1) {
		if IsWeekend(d) {
			continue
		}
		if c.IsHoliday(d) || c.OnLeave(person, d) {
			n++
		}
	}
	return n
}

// LeaveDays lists the person's leave days in ascending order.
func (c *Calendar) LeaveDays(person string) []time.Time {
	set := c.leave[personKey(person)]
	out := make([]time.Time, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Holidays lists the public holidays in ascending order.
func (c *Calendar) Holidays() []time.Time {
	out := make([]time.Time, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
