// Package insights derives report-level summaries from resolved tasks and
// capacity buckets.
package insights

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"capplan/internal/calendar"
	"capplan/internal/domain"
)

type PriorityTotal struct {
	Priority domain.Priority `json:"priority"`
	Tasks    int             `json:"tasks"`
	Days     float64         `json:"days"`
}

type WorkstreamSummary struct {
	Name    string    `json:"name"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Tasks   int       `json:"tasks"`
	Blocked []string  `json:"blocked,omitempty"`
}

type DeadlineRisk struct {
	Task     string    `json:"task"`
	End      time.Time `json:"end"`
	Deadline time.Time `json:"deadline"`
	DaysLate int       `json:"days_late"`
}

type BlockedTask struct {
	Task       string        `json:"task"`
	Workstream string        `json:"workstream"`
	Status     domain.Status `json:"status"`
	Reason     string        `json:"reason,omitempty"`
}

// Peak is the team-wide bucket with the highest utilisation.
type Peak struct {
	Start       time.Time `json:"start"`
	Allocated   float64   `json:"allocated"`
	Available   float64   `json:"available"`
	Utilisation float64   `json:"utilisation"`
}

type Summary struct {
	TotalTasks          int                   `json:"total_tasks"`
	StatusCounts        map[domain.Status]int `json:"status_counts"`
	PriorityTotals      []PriorityTotal       `json:"priority_totals"`
	Workstreams         []WorkstreamSummary   `json:"workstreams"`
	Blocked             []BlockedTask         `json:"blocked"`
	DeadlinesAtRisk     []DeadlineRisk        `json:"deadlines_at_risk"`
	LowConfidence       []string              `json:"low_confidence"`
	Overdue             []string              `json:"overdue"`
	LateStarts          []string              `json:"late_starts"`
	PriorityInversions  []string              `json:"priority_inversions"`
	OverCapacityBuckets int                   `json:"over_capacity_buckets"`
	Peak                *Peak                 `json:"peak,omitempty"`
	DriftedTasks        int                   `json:"drifted_tasks"`
	MeanDriftPercent    *float64              `json:"mean_drift_percent,omitempty"`
}

// Build summarises tasks, which should already be in display order, as of
// now.
func Build(tasks []domain.ResolvedTask, buckets []domain.CapacityBucket, now time.Time) Summary {
	today := calendar.Day(now)
	s := Summary{
		TotalTasks:         len(tasks),
		StatusCounts:       map[domain.Status]int{},
		Blocked:            []BlockedTask{},
		DeadlinesAtRisk:    []DeadlineRisk{},
		LowConfidence:      []string{},
		Overdue:            []string{},
		LateStarts:         []string{},
		PriorityInversions: []string{},
	}
	for _, st := range domain.Statuses {
		s.StatusCounts[st] = 0
	}

	totals := map[domain.Priority]*PriorityTotal{}
	streams := map[string]*WorkstreamSummary{}
	var streamOrder []string
	var drifts []float64

	for _, t := range tasks {
		if t.Inclusion.TaskCount {
			s.StatusCounts[t.Status]++
		}
		if t.Inclusion.Concurrency {
			pt, ok := totals[t.Priority]
			if !ok {
				pt = &PriorityTotal{Priority: t.Priority}
				totals[t.Priority] = pt
			}
			pt.Tasks++
			pt.Days += t.CurrentDays
		}

		ws, ok := streams[t.Workstream]
		if !ok {
			ws = &WorkstreamSummary{Name: t.Workstream, Start: t.Schedule.Start, End: t.End}
			streams[t.Workstream] = ws
			streamOrder = append(streamOrder, t.Workstream)
		}
		ws.Tasks++
		if t.Schedule.Start.Before(ws.Start) {
			ws.Start = t.Schedule.Start
		}
		if t.End.After(ws.End) {
			ws.End = t.End
		}

		if t.Blocked {
			ws.Blocked = append(ws.Blocked, t.Name)
			s.Blocked = append(s.Blocked, BlockedTask{Task: t.Name, Workstream: t.Workstream, Status: t.Status, Reason: t.BlockedBy})
		}
		if t.Deadline != nil && t.Status != domain.StatusOnHold && t.End.After(*t.Deadline) {
			s.DeadlinesAtRisk = append(s.DeadlinesAtRisk, DeadlineRisk{
				Task:     t.Name,
				End:      t.End,
				Deadline: *t.Deadline,
				DaysLate: int(t.End.Sub(calendar.Day(*t.Deadline)).Hours() / 24),
			})
		}
		active := t.Status == domain.StatusPlanned || t.Status == domain.StatusInProgress
		if active && t.Confidence == domain.ConfidenceLow {
			s.LowConfidence = append(s.LowConfidence, t.Name)
		}
		if t.Status == domain.StatusInProgress && t.Schedule.PlannedEnd.Before(today) {
			s.Overdue = append(s.Overdue, t.Name)
		}
		if t.Status == domain.StatusPlanned && t.Schedule.Start.Before(today) {
			s.LateStarts = append(s.LateStarts, t.Name)
		}
		if t.PriorityInversion {
			s.PriorityInversions = append(s.PriorityInversions, t.Name)
		}
		if t.Drift != nil {
			s.DriftedTasks++
			if t.Drift.HasPercent {
				drifts = append(drifts, t.Drift.Percent)
			}
		}
	}

	for _, p := range append(append([]domain.Priority(nil), domain.Priorities...), domain.PriorityUnset) {
		if pt, ok := totals[p]; ok {
			s.PriorityTotals = append(s.PriorityTotals, *pt)
		}
	}
	for _, name := range streamOrder {
		s.Workstreams = append(s.Workstreams, *streams[name])
	}
	if len(drifts) > 0 {
		mean := stat.Mean(drifts, nil)
		s.MeanDriftPercent = &mean
	}
	for _, b := range buckets {
		if b.OverCapacity {
			s.OverCapacityBuckets++
		}
	}
	s.Peak = peak(buckets)
	return s
}

// peak sums every person's bucket per start date and returns the one with
// the highest allocated-to-available ratio.
func peak(buckets []domain.CapacityBucket) *Peak {
	alloc := map[time.Time][]float64{}
	avail := map[time.Time][]float64{}
	var starts []time.Time
	for _, b := range buckets {
		if _, ok := alloc[b.Start]; !ok {
			starts = append(starts, b.Start)
		}
		alloc[b.Start] = append(alloc[b.Start], b.Allocated)
		avail[b.Start] = append(avail[b.Start], b.Available)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	var best *Peak
	for _, start := range starts {
		a, v := floats.Sum(alloc[start]), floats.Sum(avail[start])
		if v <= 0 {
			continue
		}
		if best == nil || a/v > best.Utilisation {
			best = &Peak{Start: start, Allocated: a, Available: v, Utilisation: a / v}
		}
	}
	return best
}
