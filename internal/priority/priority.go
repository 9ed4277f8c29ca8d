// Package priority resolves effective task priority and orders work.
package priority

import (
	"sort"
	"strings"

	"capplan/internal/domain"
)

// Effective returns the explicit priority when set, otherwise the
// workstream's.
func Effective(explicit, workstream domain.Priority) domain.Priority {
	if explicit != domain.PriorityUnset {
		return explicit
	}
	return workstream
}

// Inverted reports a task explicitly marked more urgent than its workstream.
func Inverted(explicit, workstream domain.Priority) bool {
	if explicit == domain.PriorityUnset || workstream == domain.PriorityUnset {
		return false
	}
	return explicit.Rank() < workstream.Rank()
}

// Stream is the ordering key of a workstream.
type Stream struct {
	Name     string
	Priority domain.Priority
}

// SortStreams orders workstreams by priority then name.
func SortStreams(streams []Stream) {
	sort.SliceStable(streams, func(i, j int) bool {
		a, b := streams[i], streams[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

// Less orders tasks within a workstream: effective priority, then start,
// then name.
func Less(a, b domain.ResolvedTask) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.Schedule.Start.Equal(b.Schedule.Start) {
		return a.Schedule.Start.Before(b.Schedule.Start)
	}
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

// Order groups tasks by workstream in stream order and sorts each group with
// Less. Tasks whose workstream is not in streams come last.
func Order(tasks []domain.ResolvedTask, streams []Stream) []domain.ResolvedTask {
	sorted := append([]Stream(nil), streams...)
	SortStreams(sorted)
	rank := make(map[string]int, len(sorted))
	for i, s := range sorted {
		rank[s.Name] = i
	}
	streamRank := func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		return len(sorted)
	}
	out := append([]domain.ResolvedTask(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := streamRank(out[i].Workstream), streamRank(out[j].Workstream)
		if ri != rj {
			return ri < rj
		}
		return Less(out[i], out[j])
	})
	return out
}
