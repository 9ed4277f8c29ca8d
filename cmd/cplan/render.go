package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"capplan/internal/domain"
	"capplan/internal/engine"
	"capplan/internal/insights"
	"capplan/internal/snapshot"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderTasks(tasks []domain.ResolvedTask) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Workstream", "Assignee", "Status", "Priority", "Start", "End", "Days", "Drift"})
	for _, t := range tasks {
		assignee := t.Assignee
		if !t.AssigneeKnown && assignee != "" {
			assignee += " (?)"
		}
		status := string(t.Status)
		if t.Blocked {
			status += " (blocked)"
		}
		tw.AppendRow(table.Row{
			t.Name, t.Workstream, assignee, status, t.Priority,
			snapshot.FormatDate(t.Schedule.Start), snapshot.FormatDate(t.End),
			formatDays(t.CurrentDays), formatDrift(t.Drift),
		})
	}
	tw.Render()
}

func renderBuckets(buckets []domain.CapacityBucket) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Person", "Period", "Allocated", "Available", "Utilisation", "Tasks"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for _, b := range buckets {
		util := "-"
		if b.Utilisation != nil {
			util = fmt.Sprintf("%.0f%%", *b.Utilisation*100)
		}
		if b.OverCapacity {
			util = text.FgRed.Sprint(util + " over")
		}
		tw.AppendRow(table.Row{b.Person, snapshot.FormatDate(b.Start), formatDays(b.Allocated), formatDays(b.Available), util, b.Tasks})
	}
	tw.Render()
}

func renderConcurrency(notes []domain.ConcurrencyNote) {
	tw := newTable()
	tw.SetTitle("Concurrent work")
	tw.AppendHeader(table.Row{"Person", "Week", "Tasks"})
	for _, n := range notes {
		tw.AppendRow(table.Row{n.Person, snapshot.FormatDate(n.WeekStart), strings.Join(n.Tasks, ", ")})
	}
	tw.Render()
}

func renderFindings(findings []domain.Finding) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Severity", "Code", "Message"})
	for _, f := range findings {
		sev := string(f.Severity)
		switch f.Severity {
		case domain.SeverityError, domain.SeverityInvariant:
			sev = text.FgRed.Sprint(sev)
		case domain.SeverityWarning:
			sev = text.FgYellow.Sprint(sev)
		}
		tw.AppendRow(table.Row{sev, f.Code, f.Message()})
	}
	tw.Render()
}

func renderSummary(res engine.Result) {
	s := res.Summary
	fmt.Printf("Snapshot %s: %d tasks, %d over-capacity buckets\n", res.SnapshotID, s.TotalTasks, s.OverCapacityBuckets)
	if s.Peak != nil {
		fmt.Printf("Peak %s: %s of %s days (%.0f%%)\n", snapshot.FormatDate(s.Peak.Start),
			formatDays(s.Peak.Allocated), formatDays(s.Peak.Available), s.Peak.Utilisation*100)
	}
	if s.MeanDriftPercent != nil {
		fmt.Printf("Drift: %d task(s) re-estimated, mean %+.0f%%\n", s.DriftedTasks, *s.MeanDriftPercent)
	}

	tw := newTable()
	tw.SetTitle("Workstreams")
	tw.AppendHeader(table.Row{"Workstream", "Start", "End", "Tasks", "Blocked"})
	for _, w := range s.Workstreams {
		tw.AppendRow(table.Row{w.Name, snapshot.FormatDate(w.Start), snapshot.FormatDate(w.End), w.Tasks, strings.Join(w.Blocked, ", ")})
	}
	tw.Render()

	pt := newTable()
	pt.SetTitle("Priorities")
	pt.AppendHeader(table.Row{"Priority", "Tasks", "Days"})
	for _, p := range s.PriorityTotals {
		pt.AppendRow(table.Row{p.Priority, p.Tasks, formatDays(p.Days)})
	}
	pt.Render()

	if len(s.DeadlinesAtRisk) > 0 {
		dt := newTable()
		dt.SetTitle("Deadlines at risk")
		dt.AppendHeader(table.Row{"Task", "End", "Deadline", "Days late"})
		for _, d := range s.DeadlinesAtRisk {
			dt.AppendRow(table.Row{d.Task, snapshot.FormatDate(d.End), snapshot.FormatDate(d.Deadline), d.DaysLate})
		}
		dt.Render()
	}
	printList("Blocked", blockedNames(s.Blocked))
	printList("Overdue", s.Overdue)
	printList("Late starts", s.LateStarts)
	printList("Low confidence", s.LowConfidence)
	printList("Priority inversions", s.PriorityInversions)
}

func blockedNames(items []insights.BlockedTask) []string {
	out := make([]string, 0, len(items))
	for _, b := range items {
		name := b.Task
		if b.Reason != "" {
			name += " (" + b.Reason + ")"
		}
		out = append(out, name)
	}
	return out
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("%s: %s\n", title, strings.Join(items, ", "))
}

func formatDays(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDrift(d *domain.Drift) string {
	if d == nil || d.Days == 0 {
		return ""
	}
	if !d.HasPercent {
		return fmt.Sprintf("%+g d", d.Days)
	}
	return fmt.Sprintf("%+g d (%+.0f%%)", d.Days, d.Percent)
}
