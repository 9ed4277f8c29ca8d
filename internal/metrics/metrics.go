// Package metrics records planner run statistics.
package metrics

import (
	"time"

	"capplan/internal/domain"
)

// RunStats summarises one engine run.
type RunStats struct {
	Granularity  domain.Granularity
	Tasks        int
	Excluded     int
	OverCapacity int
	Concurrency  int
	Findings     map[domain.Severity]int
	Duration     time.Duration
}

// Recorder receives run statistics.
type Recorder interface {
	RecordRun(RunStats)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordRun(RunStats) {}
