// Package capacity folds task allocations into per-person time buckets.
package capacity

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"capplan/internal/calendar"
	"capplan/internal/domain"
)

// BucketStart returns the Monday of d's week or the first of d's month.
func BucketStart(d time.Time, g domain.Granularity) time.Time {
	if g == domain.GranularityMonth {
		return calendar.MonthStart(d)
	}
	return calendar.WeekStart(d)
}

// BucketEnd returns the last calendar day of the bucket starting at start.
func BucketEnd(start time.Time, g domain.Granularity) time.Time {
	if g == domain.GranularityMonth {
		return start.AddDate(0, 1, -1)
	}
	return start.AddDate(0, 0, 6)
}

func nextBucket(start time.Time, g domain.Granularity) time.Time {
	if g == domain.GranularityMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 7)
}

// entry is one included allocation. Buckets are a fold over these.
type entry struct {
	person string
	bucket time.Time
	task   int
	days   float64
}

type bucketKey struct {
	person string
	start  time.Time
}

func entries(tasks []domain.ResolvedTask, g domain.Granularity, include func(domain.Inclusion) bool) []entry {
	var out []entry
	for i, t := range tasks {
		if !t.AssigneeKnown || !include(t.Inclusion) {
			continue
		}
		for _, a := range t.Allocations {
			out = append(out, entry{person: t.Assignee, bucket: BucketStart(a.Date, g), task: i, days: a.Days})
		}
	}
	return out
}

// Aggregate sums capacity-included allocations per person and bucket. Every
// person gets a contiguous run of buckets covering the first to the last
// bucket holding any allocation, so idle weeks show up as zero. Allocated
// beyond available plus tolerance is over capacity.
func Aggregate(tasks []domain.ResolvedTask, people []domain.Person, cal *calendar.Calendar, g domain.Granularity, tolerance float64) []domain.CapacityBucket {
	if g == "" {
		g = domain.GranularityWeek
	}
	es := entries(tasks, g, func(in domain.Inclusion) bool { return in.Capacity })
	if len(es) == 0 {
		return []domain.CapacityBucket{}
	}
	first, last := es[0].bucket, es[0].bucket
	days := map[bucketKey][]float64{}
	taskSets := map[bucketKey]map[int]struct{}{}
	for _, e := range es {
		if e.bucket.Before(first) {
			first = e.bucket
		}
		if e.bucket.After(last) {
			last = e.bucket
		}
		k := bucketKey{e.person, e.bucket}
		days[k] = append(days[k], e.days)
		if taskSets[k] == nil {
			taskSets[k] = map[int]struct{}{}
		}
		taskSets[k][e.task] = struct{}{}
	}

	var out []domain.CapacityBucket
	for _, p := range people {
		for start := first; !start.After(last); start = nextBucket(start, g) {
			k := bucketKey{p.Name, start}
			b := domain.CapacityBucket{
				Person:      p.Name,
				Start:       start,
				Granularity: g,
				Allocated:   floats.Sum(days[k]),
				Available:   Available(cal, p, start, g),
				Tasks:       len(taskSets[k]),
			}
			if b.Available > 0 {
				u := b.Allocated / b.Available
				b.Utilisation = &u
			}
			if b.Allocated > b.Available+tolerance {
				b.OverCapacity = true
				b.Overshoot = b.Allocated - b.Available
			}
			out = append(out, b)
		}
	}
	return out
}

// Available is the person's nominal capacity in the bucket minus weekdays
// lost to public holidays and leave, never negative. A month is worth
// days-per-week spread over its weekdays.
func Available(cal *calendar.Calendar, p domain.Person, start time.Time, g domain.Granularity) float64 {
	end := BucketEnd(start, g)
	nominal := p.DaysPerWeek
	if g == domain.GranularityMonth {
		nominal = p.DaysPerWeek / 5 * float64(calendar.Weekdays(start, end))
	}
	return math.Max(0, nominal-float64(cal.LostWeekdays(p.Name, start, end)))
}

// Total sums the allocated days of every bucket.
func Total(buckets []domain.CapacityBucket) float64 {
	vals := make([]float64, len(buckets))
	for i, b := range buckets {
		vals[i] = b.Allocated
	}
	return floats.Sum(vals)
}

// Concurrency reports each person-week where at least threshold distinct
// concurrency-included tasks hold allocations. Task names keep the order of
// tasks.
func Concurrency(tasks []domain.ResolvedTask, threshold int) []domain.ConcurrencyNote {
	if threshold <= 0 {
		return nil
	}
	seen := map[bucketKey]map[int]struct{}{}
	for _, e := range entries(tasks, domain.GranularityWeek, func(in domain.Inclusion) bool { return in.Concurrency }) {
		k := bucketKey{e.person, e.bucket}
		if seen[k] == nil {
			seen[k] = map[int]struct{}{}
		}
		seen[k][e.task] = struct{}{}
	}
	var out []domain.ConcurrencyNote
	for k, set := range seen {
		if len(set) < threshold {
			continue
		}
		idx := make([]int, 0, len(set))
		for i := range set {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		note := domain.ConcurrencyNote{Person: k.person, WeekStart: k.start}
		for _, i := range idx {
			note.Tasks = append(note.Tasks, tasks[i].Name)
		}
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Person != out[j].Person {
			return out[i].Person < out[j].Person
		}
		return out[i].WeekStart.Before(out[j].WeekStart)
	})
	return out
}
