package engine

import (
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"capplan/internal/calendar"
	"capplan/internal/capacity"
	"capplan/internal/config"
	"capplan/internal/domain"
	"capplan/internal/drift"
	"capplan/internal/events"
	"capplan/internal/insights"
	"capplan/internal/logger"
	"capplan/internal/metrics"
	"capplan/internal/priority"
	"capplan/internal/repo"
	"capplan/internal/schedule"
	"capplan/internal/status"
	"capplan/internal/validate"
)

// Engine runs the planner. Run itself is pure; DB, Repo and Events are only
// needed by the workspace operations.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Logger  logger.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// New returns an engine without a workspace.
func New(cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default("")
	}
	return Engine{
		Config:  cfg,
		Logger:  logger.NopLogger{},
		Metrics: metrics.NopRecorder{},
		Now:     time.Now,
	}
}

// NewWorkspace returns an engine bound to a workspace database.
func NewWorkspace(db *sql.DB, cfg *config.Config) Engine {
	e := New(cfg)
	e.DB = db
	e.Repo = repo.Repo{DB: db}
	e.Events = events.Writer{DB: db}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	if e.Logger == nil {
		return logger.NopLogger{}
	}
	return e.Logger
}

func (e Engine) recorder() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.NopRecorder{}
	}
	return e.Metrics
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default("")
	}
	return e.Config
}

// RunOptions override the configured report window and granularity.
type RunOptions struct {
	From        *time.Time
	To          *time.Time
	Granularity domain.Granularity
}

// Result is everything one run produces.
type Result struct {
	SnapshotID  string                   `json:"snapshot_id"`
	Granularity domain.Granularity       `json:"granularity"`
	From        *time.Time               `json:"from,omitempty"`
	To          *time.Time               `json:"to,omitempty"`
	Tasks       []domain.ResolvedTask    `json:"tasks"`
	Excluded    []domain.ExcludedTask    `json:"excluded"`
	Buckets     []domain.CapacityBucket  `json:"buckets"`
	Concurrency []domain.ConcurrencyNote `json:"concurrency"`
	Findings    []domain.Finding         `json:"findings"`
	Summary     insights.Summary         `json:"summary"`
}

// HasErrors reports any error or invariant finding.
func (r Result) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == domain.SeverityError || f.Severity == domain.SeverityInvariant {
			return true
		}
	}
	return false
}

// Invariants returns the internal consistency failures.
func (r Result) Invariants() []domain.Finding {
	var out []domain.Finding
	for _, f := range r.Findings {
		if f.Severity == domain.SeverityInvariant {
			out = append(out, f)
		}
	}
	return out
}

// SnapshotID is a content hash of the input, stable across runs.
func SnapshotID(in domain.Input) string {
	data, err := json.Marshal(in)
	if err != nil {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}

// Run validates, schedules and aggregates one input snapshot. It never fails:
// problems are reported as findings and affected tasks are excluded.
func (e Engine) Run(in domain.Input, opts RunOptions) Result {
	started := time.Now()
	cfg := e.config()
	log := e.log()

	granularity := opts.Granularity
	if granularity == "" {
		granularity = cfg.Granularity()
	}
	from, to := opts.From, opts.To
	if from == nil && to == nil {
		// An invalid window was rejected when the config was loaded.
		from, to, _ = cfg.ReportWindow()
	}

	cat, findings := validate.Check(in, validate.Options{
		FuzzyThreshold:  cfg.Planner.FuzzyThreshold,
		DefaultPriority: cfg.DefaultPriority(),
		DefaultColor:    cfg.Planner.DefaultColor,
	})
	cal := calendar.New(cat.Holidays, cat.Leave)
	streamPriority := cat.StreamPriorities()

	res := Result{
		SnapshotID:  SnapshotID(in),
		Granularity: granularity,
		From:        from,
		To:          to,
		Tasks:       []domain.ResolvedTask{},
		Excluded:    []domain.ExcludedTask{},
	}

	var resolved []domain.ResolvedTask
	for _, ct := range cat.Tasks {
		if ct.Excluded {
			res.Excluded = append(res.Excluded, domain.ExcludedTask{Name: ct.Task.Name, Row: ct.Task.Row, Code: ct.ExcludeCode})
			log.Debugw("task excluded", map[string]any{"task": ct.Task.Name, "row": ct.Task.Row, "code": ct.ExcludeCode})
			continue
		}
		rt, err := e.resolve(cal, ct, streamPriority, cfg.DefaultPriority())
		if err != nil {
			ref := domain.EntityRef{Kind: domain.EntityTask, Name: ct.Task.Name, Row: ct.Task.Row}
			findings = append(findings, domain.NewFinding(domain.SeverityWarning, domain.CodeNonPositiveDuration, ref, "total_days", "").Excluding())
			res.Excluded = append(res.Excluded, domain.ExcludedTask{Name: ct.Task.Name, Row: ct.Task.Row, Code: domain.CodeNonPositiveDuration})
			continue
		}
		if !rt.Overlaps(from, to) {
			continue
		}
		resolved = append(resolved, rt)
	}

	res.Tasks = priority.Order(resolved, cat.StreamKeys())
	res.Buckets = capacity.Aggregate(res.Tasks, cat.People, cal, granularity, cfg.Planner.AllocationTolerance)
	res.Concurrency = capacity.Concurrency(res.Tasks, cfg.Planner.ConcurrencyThreshold)
	if res.Concurrency == nil {
		res.Concurrency = []domain.ConcurrencyNote{}
	}

	invariants := checkIntegrity(cal, res.Tasks, res.Buckets, cfg.Planner.AllocationTolerance)
	for _, f := range invariants {
		log.Errorf("invariant failure: %s", f.Message())
	}
	findings = append(findings, invariants...)
	if findings == nil {
		findings = []domain.Finding{}
	}
	res.Findings = findings
	res.Summary = insights.Build(res.Tasks, res.Buckets, e.now())

	counts := domain.CountBySeverity(res.Findings)
	overCapacity := res.Summary.OverCapacityBuckets
	log.Infof("planned %d tasks (%d excluded), %d buckets, %d over capacity, findings: %d errors, %d warnings, %d invariants",
		len(res.Tasks), len(res.Excluded), len(res.Buckets), overCapacity,
		counts[domain.SeverityError], counts[domain.SeverityWarning], counts[domain.SeverityInvariant])
	e.recorder().RecordRun(metrics.RunStats{
		Granularity:  granularity,
		Tasks:        len(res.Tasks),
		Excluded:     len(res.Excluded),
		OverCapacity: overCapacity,
		Concurrency:  len(res.Concurrency),
		Findings:     counts,
		Duration:     time.Since(started),
	})
	return res
}

func (e Engine) resolve(cal *calendar.Calendar, ct validate.CheckedTask, streams map[string]domain.Priority, fallback domain.Priority) (domain.ResolvedTask, error) {
	t := ct.Task
	person := ""
	if ct.AssigneeKnown {
		person = ct.Assignee
	}
	sched, err := schedule.Compute(cal, t.Name, person, t.Start, t.CurrentDays)
	if err != nil {
		return domain.ResolvedTask{}, err
	}
	wp, ok := streams[ct.Workstream]
	if !ok || !ct.StreamKnown {
		wp = fallback
	}
	rt := domain.ResolvedTask{
		Name:               t.Name,
		Row:                t.Row,
		Workstream:         ct.Workstream,
		Assignee:           ct.Assignee,
		AssigneeKnown:      ct.AssigneeKnown,
		Status:             ct.Status,
		ExplicitPriority:   ct.Priority,
		WorkstreamPriority: wp,
		Priority:           priority.Effective(ct.Priority, wp),
		PriorityInversion:  priority.Inverted(ct.Priority, wp),
		Confidence:         ct.Confidence,
		BlockedBy:          t.BlockedBy,
		Deadline:           t.Deadline,
		Notes:              t.Notes,
		OriginalDays:       t.OriginalDays,
		CurrentDays:        t.CurrentDays,
		Schedule:           sched,
		PlannedWorkingDays: sched.WorkingDays(),
		ActualEnd:          t.ActualEnd,
	}
	rt = status.Resolve(cal, rt)
	rt.Drift = drift.Compute(rt.OriginalDays, rt.CurrentDays)
	if rt.Inclusion.UseActualEnd {
		v := drift.Variance(cal, person, rt.Schedule.PlannedEnd, *rt.ActualEnd)
		rt.Variance = &v
	}
	rt.Blocked = rt.Status == domain.StatusOnHold || (rt.Status != domain.StatusComplete && rt.BlockedBy != "")
	return rt, nil
}

// checkIntegrity re-derives the invariants every run must satisfy. A finding
// here means the engine is wrong, not the input.
func checkIntegrity(cal *calendar.Calendar, tasks []domain.ResolvedTask, buckets []domain.CapacityBucket, tolerance float64) []domain.Finding {
	var out []domain.Finding
	var included []float64
	for _, t := range tasks {
		ref := domain.EntityRef{Kind: domain.EntityTask, Name: t.Name, Row: t.Row}
		if t.End.Before(t.Schedule.Start) {
			out = append(out, domain.NewFinding(domain.SeverityInvariant, domain.CodeEndBeforeStart, ref, "end", t.End.Format("2006-01-02")).
				WithParam("start", t.Schedule.Start.Format("2006-01-02")))
		}
		days := make([]float64, len(t.Schedule.Allocations))
		for i, a := range t.Schedule.Allocations {
			days[i] = a.Days
		}
		if sum := floats.Sum(days); math.Abs(sum-t.CurrentDays) > tolerance {
			out = append(out, domain.NewFinding(domain.SeverityInvariant, domain.CodeAllocationMismatch, ref, "allocations", formatFloat(sum)).
				WithParam("expected", formatFloat(t.CurrentDays)))
		}
		person := ""
		if t.AssigneeKnown {
			person = t.Assignee
		}
		for _, a := range t.Allocations {
			if !cal.IsWorkingDay(person, a.Date) {
				out = append(out, domain.NewFinding(domain.SeverityInvariant, domain.CodeAllocationOffCalendar, ref, "allocations", a.Date.Format("2006-01-02")))
			}
			if t.AssigneeKnown && t.Inclusion.Capacity {
				included = append(included, a.Days)
			}
		}
	}
	total, want := capacity.Total(buckets), floats.Sum(included)
	if math.Abs(total-want) > tolerance*float64(len(included)+1) {
		ref := domain.EntityRef{Kind: domain.EntitySnapshot}
		out = append(out, domain.NewFinding(domain.SeverityInvariant, domain.CodeCapacityMismatch, ref, "buckets", formatFloat(total)).
			WithParam("expected", formatFloat(want)))
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
