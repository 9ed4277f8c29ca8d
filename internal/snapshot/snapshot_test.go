package snapshot_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/domain"
	"capplan/internal/snapshot"
)

const sample = `
team:
  - name: Alice
    role: Engineer
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
    total_days: 3.5
    original_days: 3
    status: In Progress
    deadline: 15/03/2024
  - name: Cleanup
    workstream: Platform Migration
    assignee: Bob
    start_date: 31-02-2024
    total_days: 2
    status: Planned
public_holidays:
  - date: 2024-03-29
    name: Good Friday
leave:
  - person: Alice
    start_date: 2024-03-11
    end_date: 2024-03-12
    type: Annual Leave
`

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-04", "04/03/2024", "04-03-2024", " 2024-03-04 ", "2024-03-04T22:00:00-05:00"} {
		got, err := snapshot.ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := snapshot.ParseDate("March 4th")
	assert.Error(t, err)
}

func TestDecodeAndInput(t *testing.T) {
	doc, err := snapshot.Decode(strings.NewReader(sample), snapshot.FormatYAML)
	require.NoError(t, err)
	in, findings := doc.Input()

	require.Len(t, in.People, 2)
	assert.Equal(t, snapshot.DefaultDaysPerWeek, in.People[1].DaysPerWeek)
	require.Len(t, in.Tasks, 2)
	cut := in.Tasks[0]
	assert.Equal(t, 3.5, cut.CurrentDays)
	assert.Equal(t, 3.0, cut.OriginalDays)
	assert.Equal(t, "In Progress", cut.Status)
	require.NotNil(t, cut.Deadline)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), *cut.Deadline)
	assert.Equal(t, 1, cut.Row)

	cleanup := in.Tasks[1]
	assert.True(t, cleanup.Start.IsZero())
	assert.Equal(t, 2.0, cleanup.OriginalDays)

	require.Len(t, in.Leave, 1)
	assert.Equal(t, "Annual Leave", in.Leave[0].Type)
	require.Len(t, in.Holidays, 1)

	var got []string
	for _, f := range findings {
		got = append(got, f.Code)
	}
	assert.ElementsMatch(t, []string{domain.CodeMissingCapacity, domain.CodeInvalidDate}, got)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := snapshot.Decode(strings.NewReader("team: []\nprojects: []\n"), snapshot.FormatYAML)
	assert.Error(t, err)
	_, err = snapshot.Decode(strings.NewReader(`{"team":[],"bogus":1}`), snapshot.FormatJSON)
	assert.Error(t, err)
}

func TestRoundTripThroughJSONFile(t *testing.T) {
	doc, err := snapshot.Decode(strings.NewReader(sample), snapshot.FormatYAML)
	require.NoError(t, err)
	in, _ := doc.Input()
	in.Tasks = in.Tasks[:1]

	var buf bytes.Buffer
	require.NoError(t, snapshot.FromInput(in).Encode(&buf, snapshot.FormatJSON))
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	again, findings := loaded.Input()
	assert.Empty(t, findings)
	assert.Equal(t, in.Tasks, again.Tasks)
	assert.Equal(t, in.Leave, again.Leave)
}

func TestEmptyYAMLDocument(t *testing.T) {
	doc, err := snapshot.Decode(strings.NewReader(""), snapshot.FormatYAML)
	require.NoError(t, err)
	in, findings := doc.Input()
	assert.Empty(t, in.Tasks)
	assert.Empty(t, findings)
}
