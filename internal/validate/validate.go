// Package validate cross-checks a raw input snapshot and resolves its names
// and enums. It never fixes data: every problem becomes a finding and, for
// fatal ones, an excluded task.
package validate

import (
	"regexp"
	"strconv"
	"time"

	"capplan/internal/calendar"
	"capplan/internal/domain"
	"capplan/internal/priority"
)

const noSimilarName = "no similar name found"

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Options struct {
	FuzzyThreshold  float64
	DefaultPriority domain.Priority
	DefaultColor    string
}

// Stream is a workstream after colour and priority fallbacks.
type Stream struct {
	Name     string          `json:"name"`
	Color    string          `json:"color"`
	Priority domain.Priority `json:"priority"`
}

// CheckedTask is a task with its references and enums resolved. Workstream
// and Assignee hold canonical names, or the raw text when unresolved.
type CheckedTask struct {
	Index         int
	Task          domain.Task
	Status        domain.Status
	Priority      domain.Priority
	Confidence    domain.Confidence
	Workstream    string
	StreamKnown   bool
	Assignee      string
	AssigneeKnown bool
	Excluded      bool
	ExcludeCode   string
}

// Catalog is the resolved view of a snapshot the engine schedules from.
type Catalog struct {
	People      []domain.Person
	Workstreams []Stream
	Holidays    []domain.PublicHoliday
	Leave       []domain.LeaveInterval
	Tasks       []CheckedTask
}

// StreamPriorities maps workstream name to priority.
func (c Catalog) StreamPriorities() map[string]domain.Priority {
	out := make(map[string]domain.Priority, len(c.Workstreams))
	for _, s := range c.Workstreams {
		out[s.Name] = s.Priority
	}
	return out
}

// StreamKeys returns the workstreams as ordering keys.
func (c Catalog) StreamKeys() []priority.Stream {
	out := make([]priority.Stream, len(c.Workstreams))
	for i, s := range c.Workstreams {
		out[i] = priority.Stream{Name: s.Name, Priority: s.Priority}
	}
	return out
}

type checker struct {
	opts     Options
	findings []domain.Finding

	people      map[string]domain.Person
	peopleNames []string
	streams     map[string]Stream
	streamNames []string
}

func (c *checker) add(f domain.Finding) { c.findings = append(c.findings, f) }

// Check validates in and returns the resolved catalog plus every finding.
func Check(in domain.Input, opts Options) (Catalog, []domain.Finding) {
	if opts.DefaultPriority == domain.PriorityUnset {
		opts.DefaultPriority = domain.P2
	}
	if opts.DefaultColor == "" {
		opts.DefaultColor = "#888888"
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = 0.6
	}
	c := &checker{
		opts:    opts,
		people:  map[string]domain.Person{},
		streams: map[string]Stream{},
	}
	var cat Catalog
	cat.People = c.checkPeople(in.People)
	cat.Workstreams = c.checkWorkstreams(in.Workstreams)
	cat.Holidays = c.checkHolidays(in.Holidays)
	cat.Leave = c.checkLeave(in.Leave)
	cat.Tasks = c.checkTasks(in.Tasks)
	return cat, c.findings
}

func rowOf(row, index int) int {
	if row > 0 {
		return row
	}
	return index + 1
}

func (c *checker) checkPeople(people []domain.Person) []domain.Person {
	if len(people) == 0 {
		c.add(domain.NewFinding(domain.SeverityError, domain.CodeEmptyTeam, domain.EntityRef{Kind: domain.EntitySnapshot}, "team", ""))
	}
	var out []domain.Person
	for i, p := range people {
		ref := domain.EntityRef{Kind: domain.EntityPerson, Name: p.Name, Row: rowOf(p.Row, i)}
		key := NormalizeName(p.Name)
		if key == "" {
			c.add(domain.NewFinding(domain.SeverityError, domain.CodeMissingName, ref, "name", ""))
			continue
		}
		if _, dup := c.people[key]; dup {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeDuplicateName, ref, "name", p.Name))
			continue
		}
		if p.DaysPerWeek < 0 {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeNegativeCapacity, ref, "days_per_week", formatDays(p.DaysPerWeek)))
			p.DaysPerWeek = 0
		}
		c.people[key] = p
		c.peopleNames = append(c.peopleNames, p.Name)
		out = append(out, p)
	}
	return out
}

func (c *checker) checkWorkstreams(streams []domain.Workstream) []Stream {
	if len(streams) == 0 {
		c.add(domain.NewFinding(domain.SeverityError, domain.CodeEmptyWorkstreams, domain.EntityRef{Kind: domain.EntitySnapshot}, "workstreams", ""))
	}
	var out []Stream
	for i, w := range streams {
		ref := domain.EntityRef{Kind: domain.EntityWorkstream, Name: w.Name, Row: rowOf(w.Row, i)}
		key := NormalizeName(w.Name)
		if key == "" {
			c.add(domain.NewFinding(domain.SeverityError, domain.CodeMissingName, ref, "name", ""))
			continue
		}
		if _, dup := c.streams[key]; dup {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeDuplicateName, ref, "name", w.Name))
			continue
		}
		s := Stream{Name: w.Name, Color: w.Color, Priority: c.opts.DefaultPriority}
		if !hexColor.MatchString(w.Color) {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeInvalidColor, ref, "color", w.Color).
				WithParam("fallback", c.opts.DefaultColor))
			s.Color = c.opts.DefaultColor
		}
		p, ok := domain.ParsePriority(w.Priority)
		switch {
		case !ok:
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeInvalidPriority, ref, "priority", w.Priority).
				WithParam("fallback", string(c.opts.DefaultPriority)))
		case p != domain.PriorityUnset:
			s.Priority = p
		}
		c.streams[key] = s
		c.streamNames = append(c.streamNames, s.Name)
		out = append(out, s)
	}
	return out
}

func (c *checker) checkHolidays(holidays []domain.PublicHoliday) []domain.PublicHoliday {
	var out []domain.PublicHoliday
	for i, h := range holidays {
		if h.Date.IsZero() {
			continue
		}
		if calendar.IsWeekend(h.Date) {
			ref := domain.EntityRef{Kind: domain.EntityHoliday, Name: h.Name, Row: rowOf(h.Row, i)}
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeHolidayOnWeekend, ref, "date", formatDate(h.Date)))
		}
		out = append(out, h)
	}
	return out
}

func (c *checker) checkLeave(leave []domain.LeaveInterval) []domain.LeaveInterval {
	var out []domain.LeaveInterval
	for i, l := range leave {
		ref := domain.EntityRef{Kind: domain.EntityLeave, Name: l.Person, Row: rowOf(l.Row, i)}
		if l.Start.IsZero() || l.End.IsZero() {
			continue
		}
		p, ok := c.people[NormalizeName(l.Person)]
		if !ok {
			c.add(c.unresolved(domain.SeverityWarning, domain.CodeUnknownLeavePerson, ref, "person", l.Person, c.peopleNames))
			continue
		}
		if l.End.Before(l.Start) {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeLeaveEndBeforeStart, ref, "end_date", formatDate(l.End)))
			continue
		}
		lt, ok := domain.ParseLeaveType(l.Type)
		if l.Type == "" {
			lt, ok = domain.LeaveOther, true
		}
		if !ok {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeInvalidLeaveType, ref, "type", l.Type))
			lt = domain.LeaveOther
		}
		l.Person = p.Name
		l.Type = string(lt)
		out = append(out, l)
	}
	return out
}

// unresolved builds a name-mismatch finding. With a fuzzy suggestion it is a
// warning; otherwise it carries the "no similar name found" hint and
// missSeverity.
func (c *checker) unresolved(missSeverity domain.Severity, code string, ref domain.EntityRef, field, value string, known []string) domain.Finding {
	if s, ok := Suggest(value, known, c.opts.FuzzyThreshold); ok {
		return domain.NewFinding(domain.SeverityWarning, code, ref, field, value).WithSuggestion(s)
	}
	return domain.NewFinding(missSeverity, code, ref, field, value).WithParam("hint", noSimilarName)
}

func (c *checker) checkTasks(tasks []domain.Task) []CheckedTask {
	out := make([]CheckedTask, 0, len(tasks))
	for i, t := range tasks {
		out = append(out, c.checkTask(i, t))
	}
	return out
}

func (c *checker) checkTask(i int, t domain.Task) CheckedTask {
	ref := domain.EntityRef{Kind: domain.EntityTask, Name: t.Name, Row: rowOf(t.Row, i)}
	ct := CheckedTask{Index: i, Task: t, Workstream: t.Workstream, Assignee: t.Assignee}
	exclude := func(f domain.Finding) {
		c.add(f.Excluding())
		if !ct.Excluded {
			ct.Excluded = true
			ct.ExcludeCode = f.Code
		}
	}

	if NormalizeName(t.Name) == "" {
		exclude(domain.NewFinding(domain.SeverityError, domain.CodeMissingName, ref, "name", ""))
	}
	if t.Start.IsZero() {
		exclude(domain.NewFinding(domain.SeverityError, domain.CodeMissingStart, ref, "start_date", ""))
	}
	st, ok := domain.ParseStatus(t.Status)
	if ok {
		ct.Status = st
	} else {
		exclude(domain.NewFinding(domain.SeverityError, domain.CodeInvalidStatus, ref, "status", t.Status))
	}
	if !(t.CurrentDays > 0) {
		exclude(domain.NewFinding(domain.SeverityWarning, domain.CodeNonPositiveDuration, ref, "total_days", formatDays(t.CurrentDays)))
	}

	if s, ok := c.streams[NormalizeName(t.Workstream)]; ok {
		ct.Workstream, ct.StreamKnown = s.Name, true
	} else {
		f := c.unresolved(domain.SeverityError, domain.CodeUnknownWorkstream, ref, "workstream", t.Workstream, c.streamNames)
		if f.Severity == domain.SeverityError {
			exclude(f)
		} else {
			c.add(f)
		}
	}
	if p, ok := c.people[NormalizeName(t.Assignee)]; ok {
		ct.Assignee, ct.AssigneeKnown = p.Name, true
	} else {
		f := c.unresolved(domain.SeverityError, domain.CodeUnknownAssignee, ref, "assignee", t.Assignee, c.peopleNames)
		if f.Severity == domain.SeverityError {
			exclude(f)
		} else {
			c.add(f)
		}
	}

	p, ok := domain.ParsePriority(t.Priority)
	if !ok {
		c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeInvalidPriority, ref, "priority", t.Priority).
			WithParam("fallback", string(c.opts.DefaultPriority)))
		p = c.opts.DefaultPriority
	}
	ct.Priority = p
	if ct.StreamKnown {
		wp := c.streams[NormalizeName(ct.Workstream)].Priority
		if priority.Inverted(p, wp) {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodePriorityInversion, ref, "priority", string(p)).
				WithParam("workstream_priority", string(wp)))
		}
	}

	conf, ok := domain.ParseConfidence(t.Confidence)
	if !ok {
		c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeInvalidConfidence, ref, "confidence", t.Confidence))
	}
	ct.Confidence = conf

	if t.Deadline != nil && !t.Start.IsZero() && t.Deadline.Before(t.Start) {
		c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeDeadlineBeforeStart, ref, "deadline", formatDate(*t.Deadline)))
	}
	if t.ActualEnd != nil {
		if ct.Status != domain.StatusComplete && ct.Status != "" {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeActualEndIgnored, ref, "actual_end", formatDate(*t.ActualEnd)))
		}
		if !t.Start.IsZero() && t.ActualEnd.Before(t.Start) {
			c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeActualEndBeforeStart, ref, "actual_end", formatDate(*t.ActualEnd)))
		}
	}
	if ct.Status == domain.StatusComplete && t.BlockedBy != "" {
		c.add(domain.NewFinding(domain.SeverityWarning, domain.CodeBlockedComplete, ref, "blocked_by", t.BlockedBy))
	}
	return ct
}

func formatDate(d time.Time) string {
	return d.Format("2006-01-02")
}

func formatDays(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
