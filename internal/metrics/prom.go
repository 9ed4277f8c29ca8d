package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder records run statistics in Prometheus metrics.
type PromRecorder struct {
	runs         *prometheus.CounterVec
	findings     *prometheus.CounterVec
	tasks        prometheus.Gauge
	excluded     prometheus.Gauge
	overCapacity prometheus.Gauge
	concurrency  prometheus.Gauge
	duration     prometheus.Histogram
}

// NewPromRecorder registers planner metrics on reg. If reg is nil, the
// default registerer is used. Collectors already registered are reused.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PromRecorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_runs_total",
			Help: "Total number of planner runs",
		}, []string{"granularity"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_findings_total",
			Help: "Validation findings emitted, by severity",
		}, []string{"severity"}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_last_run_tasks",
			Help: "Tasks scheduled in the last run",
		}),
		excluded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_last_run_excluded_tasks",
			Help: "Tasks excluded from scheduling in the last run",
		}),
		overCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_last_run_over_capacity_buckets",
			Help: "Capacity buckets over capacity in the last run",
		}),
		concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_last_run_concurrency_notes",
			Help: "Person-weeks flagged for concurrent tasks in the last run",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_run_duration_seconds",
			Help:    "Wall time of a planner run",
			Buckets: prometheus.DefBuckets,
		}),
	}
	var err error
	if r.runs, err = register(reg, r.runs); err != nil {
		return nil, err
	}
	if r.findings, err = register(reg, r.findings); err != nil {
		return nil, err
	}
	if r.tasks, err = register(reg, r.tasks); err != nil {
		return nil, err
	}
	if r.excluded, err = register(reg, r.excluded); err != nil {
		return nil, err
	}
	if r.overCapacity, err = register(reg, r.overCapacity); err != nil {
		return nil, err
	}
	if r.concurrency, err = register(reg, r.concurrency); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (r *PromRecorder) RecordRun(s RunStats) {
	g := string(s.Granularity)
	if g == "" {
		g = "week"
	}
	r.runs.WithLabelValues(g).Inc()
	for sev, n := range s.Findings {
		r.findings.WithLabelValues(string(sev)).Add(float64(n))
	}
	r.tasks.Set(float64(s.Tasks))
	r.excluded.Set(float64(s.Excluded))
	r.overCapacity.Set(float64(s.OverCapacity))
	r.concurrency.Set(float64(s.Concurrency))
	r.duration.Observe(s.Duration.Seconds())
}

// Handler exposes the gatherer's metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
