package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/config"
	"capplan/internal/db"
	"capplan/internal/domain"
	"capplan/internal/events"
	"capplan/internal/migrate"
	"capplan/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSnapshotRoundTripKeepsOrder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	deadline := day(2024, time.March, 29)
	in := domain.Input{
		People: []domain.Person{{Name: "Zed", DaysPerWeek: 2.5}, {Name: "Alice", Role: "Lead", DaysPerWeek: 5}},
		Leave:  []domain.LeaveInterval{{Person: "Alice", Start: day(2024, time.March, 4), End: day(2024, time.March, 6), Type: "Vacation"}},
		Holidays: []domain.PublicHoliday{
			{Date: day(2024, time.March, 29), Name: "Good Friday"},
		},
		Workstreams: []domain.Workstream{{Name: "Core", Color: "#112233", Priority: "P1"}},
		Tasks: []domain.Task{
			{Name: "B", Workstream: "Core", Assignee: "Zed", Start: day(2024, time.March, 4), CurrentDays: 3, OriginalDays: 2, Status: "Planned", Deadline: &deadline},
			{Name: "A", Workstream: "Core", Assignee: "Alice", Start: day(2024, time.March, 1), CurrentDays: 1.5, OriginalDays: 1.5, Status: "In Progress", Confidence: "Low"},
		},
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.ReplaceSnapshotTx(ctx, tx, in) })

	got, err := r.LoadInput(ctx)
	require.NoError(t, err)
	require.Len(t, got.People, 2)
	assert.Equal(t, "Zed", got.People[0].Name)
	assert.Equal(t, 1, got.People[0].Row)
	assert.InDelta(t, 2.5, got.People[0].DaysPerWeek, 1e-9)
	assert.Equal(t, "Lead", got.People[1].Role)
	require.Len(t, got.Leave, 1)
	assert.True(t, got.Leave[0].End.Equal(day(2024, time.March, 6)))
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, []string{"B", "A"}, []string{got.Tasks[0].Name, got.Tasks[1].Name})
	assert.Equal(t, 2, got.Tasks[1].Row)
	require.NotNil(t, got.Tasks[0].Deadline)
	assert.True(t, got.Tasks[0].Deadline.Equal(deadline))
	assert.Nil(t, got.Tasks[1].ActualEnd)
	assert.Equal(t, "Low", got.Tasks[1].Confidence)

	inTx(t, r, func(tx *sql.Tx) error {
		return r.ReplaceSnapshotTx(ctx, tx, domain.Input{People: in.People[:1]})
	})
	got, err = r.LoadInput(ctx)
	require.NoError(t, err)
	assert.Len(t, got.People, 1)
	assert.Empty(t, got.Tasks)
}

func TestWorkspaceAndConfig(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := r.GetWorkspace(ctx)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = r.GetConfig(ctx)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	inTx(t, r, func(tx *sql.Tx) error { return r.InitWorkspaceTx(ctx, tx, "ops", "2024-03-01T00:00:00Z") })
	inTx(t, r, func(tx *sql.Tx) error { return r.InitWorkspaceTx(ctx, tx, "renamed", "2024-04-01T00:00:00Z") })
	inTx(t, r, func(tx *sql.Tx) error { return r.SetSnapshotTx(ctx, tx, "snap-1", "2024-03-02T00:00:00Z") })
	info, err := r.GetWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
	assert.Equal(t, "snap-1", info.SnapshotID)
	assert.Equal(t, 0, info.Counts["tasks"])

	cfg := config.Default("ops")
	cfg.Planner.Granularity = "month"
	require.NoError(t, r.UpsertConfig(ctx, cfg))
	stored, err := r.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GranularityMonth, stored.Granularity())

	cfg.Planner.ConcurrencyThreshold = 0
	assert.Error(t, r.UpsertConfig(ctx, cfg))
}

func TestEventsPageNewestFirst(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB, Now: func() time.Time { return day(2024, time.March, 1) }}
	for _, typ := range []string{events.WorkspaceInit, events.SnapshotImported, events.ConfigImported, events.SnapshotImported} {
		inTx(t, r, func(tx *sql.Tx) error { return w.Append(ctx, tx, typ, "test", "", "", nil) })
	}

	page, err := r.LatestEvents(ctx, 3, "")
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, events.SnapshotImported, page[0].Type)
	assert.Equal(t, "local", page[0].ActorID)
	assert.Equal(t, "{}", page[0].Payload)

	rest, err := r.LatestEventsFrom(ctx, 3, page[2].ID, "")
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, events.WorkspaceInit, rest[0].Type)

	imports, err := r.LatestEvents(ctx, 0, events.SnapshotImported)
	require.NoError(t, err)
	assert.Len(t, imports, 2)
}

func TestAPIKeys(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", ActorID: "bot", Name: "ci", KeyHash: repo.HashAPIKey("secret")}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertAPIKey(ctx, tx, key) })

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, "bot", got.ActorID)
	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("other"))
	assert.ErrorIs(t, err, repo.ErrNotFound)

	keys, err := r.ListAPIKeys(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NotNil(t, keys)

	inTx(t, r, func(tx *sql.Tx) error { return r.DeleteAPIKey(ctx, tx, "k1") })
	tx, err := r.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, tx, "k1"), repo.ErrNotFound)
}
