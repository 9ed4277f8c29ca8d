package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/config"
	"capplan/internal/db"
	"capplan/internal/domain"
	"capplan/internal/engine"
	"capplan/internal/events"
	"capplan/internal/snapshot"
)

func day(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }

func ptr(t time.Time) *time.Time { return &t }

func newEngine() engine.Engine {
	eng := engine.New(config.Default("test"))
	eng.Now = func() time.Time { return day(1) }
	return eng
}

func team() domain.Input {
	return domain.Input{
		People: []domain.Person{{Name: "Alice", DaysPerWeek: 5}, {Name: "Bob", DaysPerWeek: 5}},
		Workstreams: []domain.Workstream{
			{Name: "Platform Migration", Color: "#1f77b4", Priority: "P1"},
			{Name: "Mobile", Color: "#ff7f0e", Priority: "P3"},
		},
	}
}

func task(name, stream, who string, start time.Time, days float64, status string) domain.Task {
	return domain.Task{Name: name, Workstream: stream, Assignee: who, Start: start, CurrentDays: days, OriginalDays: days, Status: status}
}

func byName(t *testing.T, res engine.Result, name string) domain.ResolvedTask {
	t.Helper()
	for _, rt := range res.Tasks {
		if rt.Name == name {
			return rt
		}
	}
	require.Failf(t, "task not in result", "%s", name)
	return domain.ResolvedTask{}
}

func bucketsFor(res engine.Result, person string) []domain.CapacityBucket {
	var out []domain.CapacityBucket
	for _, b := range res.Buckets {
		if b.Person == person {
			out = append(out, b)
		}
	}
	return out
}

func TestHolidayPushesPlannedEnd(t *testing.T) {
	in := team()
	in.Holidays = []domain.PublicHoliday{{Date: day(6), Name: "Founders Day"}}
	in.Tasks = []domain.Task{task("Cutover", "Platform Migration", "Alice", day(4), 5, "Planned")}

	res := newEngine().Run(in, engine.RunOptions{})
	require.Empty(t, res.Invariants())
	rt := byName(t, res, "Cutover")
	assert.Equal(t, day(11), rt.Schedule.PlannedEnd)
	assert.Equal(t, day(11), rt.End)
	require.Len(t, rt.Allocations, 5)
	for _, a := range rt.Allocations {
		assert.NotEqual(t, day(6), a.Date)
	}
	assert.Equal(t, 6, len(rtWeekdays(rt)))
}

func rtWeekdays(rt domain.ResolvedTask) []time.Time {
	var out []time.Time
	for d := rt.Schedule.Start; !d.After(rt.End); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func TestAllocationsSumToCurrentDays(t *testing.T) {
	in := team()
	in.Leave = []domain.LeaveInterval{{Person: "Bob", Start: day(5), End: day(7), Type: "Annual"}}
	in.Tasks = []domain.Task{
		task("Half", "Mobile", "Bob", day(4), 2.5, "In Progress"),
		task("Long", "Mobile", "Bob", day(8), 7.25, "Planned"),
		task("Weekend start", "Mobile", "Alice", day(9), 1, "Planned"),
	}
	res := newEngine().Run(in, engine.RunOptions{})
	assert.Empty(t, res.Invariants())
	for _, rt := range res.Tasks {
		sum := 0.0
		for _, a := range rt.Schedule.Allocations {
			sum += a.Days
			assert.LessOrEqual(t, a.Days, 1.0)
		}
		assert.InDelta(t, rt.CurrentDays, sum, 1e-9, rt.Name)
	}
	assert.Equal(t, day(11), byName(t, res, "Weekend start").Schedule.Start)
	half := byName(t, res, "Half")
	require.Len(t, half.Allocations, 3)
	assert.Equal(t, day(8), half.Allocations[1].Date)
	assert.InDelta(t, 0.5, half.Allocations[2].Days, 1e-9)
}

func TestDriftAndVariance(t *testing.T) {
	in := team()
	grown := task("Grown", "Mobile", "Alice", day(4), 15, "In Progress")
	grown.OriginalDays = 10
	late := task("Late", "Mobile", "Bob", day(4), 5, "Complete")
	late.ActualEnd = ptr(day(13))
	in.Tasks = []domain.Task{grown, late}

	res := newEngine().Run(in, engine.RunOptions{})
	g := byName(t, res, "Grown")
	require.NotNil(t, g.Drift)
	assert.InDelta(t, 5, g.Drift.Days, 1e-9)
	assert.InDelta(t, 50, g.Drift.Percent, 1e-9)
	assert.Nil(t, g.Variance)

	l := byName(t, res, "Late")
	assert.Nil(t, l.Drift)
	require.NotNil(t, l.Variance)
	assert.Equal(t, 3, l.Variance.Days)
	assert.Equal(t, domain.VarianceLate, l.Variance.Direction)
	assert.Equal(t, day(13), l.End)
	assert.Len(t, l.Allocations, 8)
	assert.Equal(t, 1, res.Summary.DriftedTasks)
	require.NotNil(t, res.Summary.MeanDriftPercent)
	assert.InDelta(t, 50, *res.Summary.MeanDriftPercent, 1e-9)
}

func TestOnHoldContributesNoCapacity(t *testing.T) {
	in := team()
	paused := task("Paused", "Mobile", "Alice", day(4), 3, "On Hold")
	paused.BlockedBy = "vendor contract"
	in.Tasks = []domain.Task{paused, task("Active", "Mobile", "Alice", day(4), 2, "In Progress")}

	res := newEngine().Run(in, engine.RunOptions{})
	require.Len(t, res.Buckets, 2)
	alice := bucketsFor(res, "Alice")
	require.Len(t, alice, 1)
	b := alice[0]
	assert.InDelta(t, 2, b.Allocated, 1e-9)
	assert.InDelta(t, 5, b.Available, 1e-9)
	assert.Equal(t, 1, b.Tasks)
	assert.True(t, byName(t, res, "Paused").Blocked)
	require.Len(t, res.Summary.Blocked, 1)
	assert.Equal(t, "vendor contract", res.Summary.Blocked[0].Reason)
}

func TestOverCapacity(t *testing.T) {
	in := team()
	in.Tasks = []domain.Task{
		task("One", "Mobile", "Alice", day(4), 5, "Planned"),
		task("Two", "Mobile", "Alice", day(4), 5, "Planned"),
	}
	res := newEngine().Run(in, engine.RunOptions{})
	alice := bucketsFor(res, "Alice")
	require.Len(t, alice, 1)
	assert.True(t, alice[0].OverCapacity)
	assert.InDelta(t, 5, alice[0].Overshoot, 1e-9)
	require.NotNil(t, alice[0].Utilisation)
	assert.InDelta(t, 2, *alice[0].Utilisation, 1e-9)
	bob := bucketsFor(res, "Bob")
	require.Len(t, bob, 1)
	assert.Zero(t, bob[0].Allocated)
	assert.InDelta(t, 5, bob[0].Available, 1e-9)
	assert.False(t, bob[0].OverCapacity)
	assert.Equal(t, 1, res.Summary.OverCapacityBuckets)
}

func TestPriorityInheritanceAndOrder(t *testing.T) {
	in := team()
	inherit := task("Inherit", "Platform Migration", "Alice", day(11), 1, "Planned")
	explicit := task("Explicit", "Platform Migration", "Alice", day(4), 1, "Planned")
	explicit.Priority = "P3"
	urgent := task("Urgent", "Mobile", "Bob", day(4), 1, "Planned")
	urgent.Priority = "P1"
	in.Tasks = []domain.Task{explicit, urgent, inherit}

	res := newEngine().Run(in, engine.RunOptions{})
	assert.Equal(t, domain.P1, byName(t, res, "Inherit").Priority)
	assert.Equal(t, domain.P3, byName(t, res, "Explicit").Priority)
	u := byName(t, res, "Urgent")
	assert.Equal(t, domain.P1, u.Priority)
	assert.True(t, u.PriorityInversion)
	assert.Equal(t, []string{"Urgent"}, res.Summary.PriorityInversions)

	var order []string
	for _, rt := range res.Tasks {
		order = append(order, rt.Name)
	}
	assert.Equal(t, []string{"Inherit", "Explicit", "Urgent"}, order)
}

func TestFuzzyWorkstreamStillScheduled(t *testing.T) {
	in := team()
	in.Tasks = []domain.Task{task("Cutover", "Platfrom Migration", "Alice", day(4), 2, "Planned")}

	res := newEngine().Run(in, engine.RunOptions{})
	assert.Empty(t, res.Excluded)
	require.Len(t, res.Tasks, 1)
	var found bool
	for _, f := range res.Findings {
		if f.Code == domain.CodeUnknownWorkstream {
			found = true
			assert.Equal(t, domain.SeverityWarning, f.Severity)
			assert.Contains(t, f.Message(), `did you mean "Platform Migration"?`)
		}
	}
	assert.True(t, found)
	assert.False(t, res.HasErrors())
}

func TestExcludedTasksReported(t *testing.T) {
	in := team()
	in.Tasks = []domain.Task{
		task("Good", "Mobile", "Alice", day(4), 1, "Planned"),
		task("Bad", "Mobile", "Alice", day(4), 1, "Finished"),
	}
	in.Tasks[1].Row = 2
	res := newEngine().Run(in, engine.RunOptions{})
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "Bad", res.Excluded[0].Name)
	assert.Equal(t, 2, res.Excluded[0].Row)
	assert.Equal(t, domain.CodeInvalidStatus, res.Excluded[0].Code)
	require.Len(t, res.Tasks, 1)
	assert.True(t, res.HasErrors())
}

func TestRunIsIdempotent(t *testing.T) {
	in := team()
	in.Holidays = []domain.PublicHoliday{{Date: day(6)}}
	in.Tasks = []domain.Task{
		task("A", "Mobile", "Alice", day(4), 4.5, "In Progress"),
		task("B", "Platfrom Migration", "Bob", day(5), 3, "Planned"),
	}
	eng := newEngine()
	first := eng.Run(in, engine.RunOptions{})
	second := eng.Run(in, engine.RunOptions{})
	assert.Equal(t, first, second)
	assert.Equal(t, engine.SnapshotID(in), first.SnapshotID)
}

func TestWindowFilter(t *testing.T) {
	in := team()
	in.Tasks = []domain.Task{
		task("Early", "Mobile", "Alice", day(4), 5, "Planned"),
		task("Later", "Mobile", "Alice", day(18), 5, "Planned"),
	}
	res := newEngine().Run(in, engine.RunOptions{From: ptr(day(15))})
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "Later", res.Tasks[0].Name)
	alice := bucketsFor(res, "Alice")
	require.Len(t, alice, 1)
	assert.Equal(t, day(18), alice[0].Start)

	res = newEngine().Run(in, engine.RunOptions{Granularity: domain.GranularityMonth})
	alice = bucketsFor(res, "Alice")
	require.Len(t, alice, 1)
	assert.Equal(t, day(1), alice[0].Start)
	assert.InDelta(t, 10, alice[0].Allocated, 1e-9)
}

const workspaceDoc = `team:
  - name: Alice
    days_per_week: 5
  - name: Bob
workstreams:
  - name: Platform Migration
    color: "#1f77b4"
    priority: P1
tasks:
  - name: Cutover
    workstream: Platform Migration
    assignee: Alice
    start_date: 2024-03-04
    total_days: 5
    original_days: 4
    status: In Progress
  - name: Rollback plan
    workstream: Platform Migration
    assignee: Bob
    start_date: 04/03/2024
    total_days: 2
    status: Complete
    actual_end: 2024-03-06
public_holidays:
  - date: 2024-03-06
    name: Founders Day
`

func newWorkspace(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	eng := engine.NewWorkspace(conn, config.Default("ops"))
	eng.Now = func() time.Time { return day(1) }
	ctx := context.Background()
	info, err := eng.InitWorkspace(ctx, "ops", "tester")
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
	return eng, ctx
}

func TestWorkspaceImportAndRun(t *testing.T) {
	eng, ctx := newWorkspace(t)
	doc, err := snapshot.Decode(strings.NewReader(workspaceDoc), snapshot.FormatYAML)
	require.NoError(t, err)

	imported, err := eng.ImportSnapshot(ctx, doc, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Counts["tasks"])
	require.Len(t, imported.Findings, 1)
	assert.Equal(t, domain.CodeMissingCapacity, imported.Findings[0].Code)

	info, err := eng.Workspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, imported.SnapshotID, info.SnapshotID)
	assert.Equal(t, 1, info.Counts["public_holidays"])

	fromStore, err := eng.RunWorkspace(ctx, engine.RunOptions{})
	require.NoError(t, err)
	direct := eng.RunDocument(doc, engine.RunOptions{})
	assert.Equal(t, direct.Tasks, fromStore.Tasks)
	assert.Equal(t, direct.Buckets, fromStore.Buckets)
	assert.Equal(t, fromStore.SnapshotID, imported.SnapshotID)
	assert.Empty(t, fromStore.Invariants())

	cutover := byName(t, fromStore, "Cutover")
	assert.Equal(t, day(11), cutover.Schedule.PlannedEnd)
	require.NotNil(t, cutover.Drift)
	assert.InDelta(t, 25, cutover.Drift.Percent, 1e-9)

	evts, err := eng.Repo.LatestEvents(ctx, 10, events.SnapshotImported)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, imported.SnapshotID, evts[0].EntityID)

	exported, err := eng.ExportSnapshot(ctx)
	require.NoError(t, err)
	again, _ := exported.Input()
	stored, err := eng.LoadInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.SnapshotID(stored), engine.SnapshotID(again))
}

func TestImportRejectsInvalidDates(t *testing.T) {
	eng, ctx := newWorkspace(t)
	doc, err := snapshot.Decode(strings.NewReader(workspaceDoc), snapshot.FormatYAML)
	require.NoError(t, err)
	first, err := eng.ImportSnapshot(ctx, doc, "tester")
	require.NoError(t, err)

	doc.Tasks[0].StartDate = "next tuesday"
	_, err = eng.ImportSnapshot(ctx, doc, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidSnapshot))

	info, err := eng.Workspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SnapshotID, info.SnapshotID)
}

func TestWorkspaceRequiresInit(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	eng := engine.NewWorkspace(conn, nil)
	_, err = eng.RunWorkspace(context.Background(), engine.RunOptions{})
	assert.Error(t, err)

	_, err = engine.New(nil).Workspace(context.Background())
	assert.ErrorIs(t, err, engine.ErrNoWorkspace)
}

func TestConfigImportAndAPIKeys(t *testing.T) {
	eng, ctx := newWorkspace(t)
	cfg := config.Default("ops")
	cfg.Planner.Granularity = "month"
	require.NoError(t, eng.ImportConfig(ctx, cfg, "tester"))
	stored, err := eng.Repo.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GranularityMonth, stored.Granularity())

	bad := config.Default("ops")
	bad.Planner.ConcurrencyThreshold = 0
	assert.Error(t, eng.ImportConfig(ctx, bad, "tester"))

	key, plain, err := eng.CreateAPIKey(ctx, "planner-bot", "ci")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "cpk_"))
	got, err := eng.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, "planner-bot", got.ActorID)

	require.NoError(t, eng.RevokeAPIKey(ctx, key.ID, "tester"))
	keys, err := eng.Repo.ListAPIKeys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Error(t, eng.RevokeAPIKey(ctx, key.ID, "tester"))
}
