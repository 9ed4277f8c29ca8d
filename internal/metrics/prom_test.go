package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/domain"
)

func TestPromRecorder_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPromRecorder(reg)
	require.NoError(t, err)

	rec.RecordRun(RunStats{
		Granularity:  domain.GranularityMonth,
		Tasks:        12,
		Excluded:     2,
		OverCapacity: 3,
		Findings:     map[domain.Severity]int{domain.SeverityWarning: 4, domain.SeverityError: 1},
		Duration:     20 * time.Millisecond,
	})

	expected := `
# HELP planner_findings_total Validation findings emitted, by severity
# TYPE planner_findings_total counter
planner_findings_total{severity="error"} 1
planner_findings_total{severity="warning"} 4
`
	assert.NoError(t, testutil.CollectAndCompare(rec.findings, strings.NewReader(expected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runs.WithLabelValues("month")))
	assert.Equal(t, 12.0, testutil.ToFloat64(rec.tasks))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.overCapacity))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.duration))
}

func TestNewPromRecorderReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromRecorder(reg)
	require.NoError(t, err)
	b, err := NewPromRecorder(reg)
	require.NoError(t, err)
	a.RecordRun(RunStats{Tasks: 1})
	b.RecordRun(RunStats{Tasks: 1})
	assert.Equal(t, 2.0, testutil.ToFloat64(a.runs.WithLabelValues("week")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPromRecorder(reg)
	require.NoError(t, err)
	rec.RecordRun(RunStats{Tasks: 5})

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "planner_last_run_tasks 5")
}
