// Package snapshot reads and writes the planner's input document.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"capplan/internal/domain"
)

// DefaultDaysPerWeek applies to team rows without a days_per_week value.
const DefaultDaysPerWeek = 5.0

// Document is the on-disk snapshot: one section per entity type.
type Document struct {
	Team           []PersonRow     `yaml:"team" json:"team"`
	Workstreams    []WorkstreamRow `yaml:"workstreams" json:"workstreams"`
	Tasks          []TaskRow       `yaml:"tasks" json:"tasks"`
	PublicHolidays []HolidayRow    `yaml:"public_holidays,omitempty" json:"public_holidays,omitempty"`
	Leave          []LeaveRow      `yaml:"leave,omitempty" json:"leave,omitempty"`
}

type PersonRow struct {
	Name        string   `yaml:"name" json:"name"`
	Role        string   `yaml:"role,omitempty" json:"role,omitempty"`
	DaysPerWeek *float64 `yaml:"days_per_week,omitempty" json:"days_per_week,omitempty"`
}

type WorkstreamRow struct {
	Name     string `yaml:"name" json:"name"`
	Color    string `yaml:"color" json:"color"`
	Priority string `yaml:"priority,omitempty" json:"priority,omitempty"`
}

type TaskRow struct {
	Name         string   `yaml:"name" json:"name"`
	Workstream   string   `yaml:"workstream" json:"workstream"`
	Assignee     string   `yaml:"assignee" json:"assignee"`
	StartDate    string   `yaml:"start_date" json:"start_date"`
	TotalDays    float64  `yaml:"total_days" json:"total_days"`
	OriginalDays *float64 `yaml:"original_days,omitempty" json:"original_days,omitempty"`
	Status       string   `yaml:"status" json:"status"`
	Priority     string   `yaml:"priority,omitempty" json:"priority,omitempty"`
	ActualEnd    string   `yaml:"actual_end,omitempty" json:"actual_end,omitempty"`
	BlockedBy    string   `yaml:"blocked_by,omitempty" json:"blocked_by,omitempty"`
	Deadline     string   `yaml:"deadline,omitempty" json:"deadline,omitempty"`
	Confidence   string   `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Notes        string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type HolidayRow struct {
	Date string `yaml:"date" json:"date"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

type LeaveRow struct {
	Person    string `yaml:"person" json:"person"`
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date" json:"end_date"`
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	Notes     string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension; anything but .json is
// treated as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode reads a document in the given format.
func Decode(r io.Reader, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode snapshot json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode snapshot yaml: %w", err)
		}
	}
	return &doc, nil
}

// Load reads a document from disk.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, FormatFor(path))
}

// Encode writes the document in the given format.
func (d *Document) Encode(w io.Writer, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", time.RFC3339}

// ParseDate accepts YYYY-MM-DD, DD/MM/YYYY, DD-MM-YYYY or RFC 3339 and
// returns midnight UTC of that date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// FormatDate is the canonical date rendering.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// converter collects shape findings while turning rows into records.
type converter struct {
	findings []domain.Finding
}

func (c *converter) date(ref domain.EntityRef, field, raw string) time.Time {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}
	}
	t, err := ParseDate(raw)
	if err != nil {
		c.findings = append(c.findings, domain.NewFinding(domain.SeverityError, domain.CodeInvalidDate, ref, field, raw))
		return time.Time{}
	}
	return t
}

func (c *converter) optionalDate(ref domain.EntityRef, field, raw string) *time.Time {
	t := c.date(ref, field, raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Input converts the document into typed records. Enum fields are passed
// through untouched; malformed dates become invalid_date findings and are
// left zero.
func (d *Document) Input() (domain.Input, []domain.Finding) {
	var c converter
	var in domain.Input

	for i, r := range d.Team {
		p := domain.Person{Name: strings.TrimSpace(r.Name), Role: r.Role, DaysPerWeek: DefaultDaysPerWeek, Row: i + 1}
		if r.DaysPerWeek != nil {
			p.DaysPerWeek = *r.DaysPerWeek
		} else {
			ref := domain.EntityRef{Kind: domain.EntityPerson, Name: p.Name, Row: p.Row}
			c.findings = append(c.findings, domain.NewFinding(domain.SeverityWarning, domain.CodeMissingCapacity, ref, "days_per_week", "").
				WithParam("fallback", strconv.FormatFloat(DefaultDaysPerWeek, 'f', -1, 64)))
		}
		in.People = append(in.People, p)
	}
	for i, r := range d.Workstreams {
		in.Workstreams = append(in.Workstreams, domain.Workstream{
			Name: strings.TrimSpace(r.Name), Color: strings.TrimSpace(r.Color), Priority: r.Priority, Row: i + 1,
		})
	}
	for i, r := range d.PublicHolidays {
		ref := domain.EntityRef{Kind: domain.EntityHoliday, Name: r.Name, Row: i + 1}
		in.Holidays = append(in.Holidays, domain.PublicHoliday{Date: c.date(ref, "date", r.Date), Name: r.Name, Row: i + 1})
	}
	for i, r := range d.Leave {
		ref := domain.EntityRef{Kind: domain.EntityLeave, Name: r.Person, Row: i + 1}
		in.Leave = append(in.Leave, domain.LeaveInterval{
			Person: strings.TrimSpace(r.Person),
			Start:  c.date(ref, "start_date", r.StartDate),
			End:    c.date(ref, "end_date", r.EndDate),
			Type:   r.Type,
			Notes:  r.Notes,
			Row:    i + 1,
		})
	}
	for i, r := range d.Tasks {
		ref := domain.EntityRef{Kind: domain.EntityTask, Name: r.Name, Row: i + 1}
		t := domain.Task{
			Name:        strings.TrimSpace(r.Name),
			Workstream:  r.Workstream,
			Assignee:    r.Assignee,
			Start:       c.date(ref, "start_date", r.StartDate),
			CurrentDays: r.TotalDays,
			Status:      r.Status,
			Priority:    r.Priority,
			ActualEnd:   c.optionalDate(ref, "actual_end", r.ActualEnd),
			BlockedBy:   strings.TrimSpace(r.BlockedBy),
			Deadline:    c.optionalDate(ref, "deadline", r.Deadline),
			Confidence:  r.Confidence,
			Notes:       r.Notes,
			Row:         i + 1,
		}
		t.OriginalDays = t.CurrentDays
		if r.OriginalDays != nil {
			t.OriginalDays = *r.OriginalDays
		}
		in.Tasks = append(in.Tasks, t)
	}
	return in, c.findings
}

// FromInput renders typed records back into a document.
func FromInput(in domain.Input) *Document {
	doc := &Document{}
	for _, p := range in.People {
		dpw := p.DaysPerWeek
		doc.Team = append(doc.Team, PersonRow{Name: p.Name, Role: p.Role, DaysPerWeek: &dpw})
	}
	for _, w := range in.Workstreams {
		doc.Workstreams = append(doc.Workstreams, WorkstreamRow{Name: w.Name, Color: w.Color, Priority: w.Priority})
	}
	for _, h := range in.Holidays {
		doc.PublicHolidays = append(doc.PublicHolidays, HolidayRow{Date: FormatDate(h.Date), Name: h.Name})
	}
	for _, l := range in.Leave {
		doc.Leave = append(doc.Leave, LeaveRow{
			Person: l.Person, StartDate: FormatDate(l.Start), EndDate: FormatDate(l.End), Type: l.Type, Notes: l.Notes,
		})
	}
	for _, t := range in.Tasks {
		row := TaskRow{
			Name: t.Name, Workstream: t.Workstream, Assignee: t.Assignee, StartDate: FormatDate(t.Start),
			TotalDays: t.CurrentDays, Status: t.Status, Priority: t.Priority, BlockedBy: t.BlockedBy,
			Confidence: t.Confidence, Notes: t.Notes,
		}
		if t.OriginalDays != t.CurrentDays {
			orig := t.OriginalDays
			row.OriginalDays = &orig
		}
		if t.ActualEnd != nil {
			row.ActualEnd = FormatDate(*t.ActualEnd)
		}
		if t.Deadline != nil {
			row.Deadline = FormatDate(*t.Deadline)
		}
		doc.Tasks = append(doc.Tasks, row)
	}
	return doc
}
