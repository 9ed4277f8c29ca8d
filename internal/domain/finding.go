package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityError     Severity = "error"
	SeverityWarning   Severity = "warning"
	SeverityInvariant Severity = "invariant"
)

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityError, SeverityWarning, SeverityInvariant:
		return sev, true
	}
	return "", false
}

type EntityKind string

const (
	EntitySnapshot   EntityKind = "snapshot"
	EntityPerson     EntityKind = "person"
	EntityLeave      EntityKind = "leave"
	EntityHoliday    EntityKind = "holiday"
	EntityWorkstream EntityKind = "workstream"
	EntityTask       EntityKind = "task"
)

type EntityRef struct {
	Kind EntityKind `json:"kind"`
	Name string     `json:"name,omitempty"`
	Row  int        `json:"row,omitempty"`
}

func (e EntityRef) String() string {
	switch {
	case e.Name != "" && e.Row > 0:
		return fmt.Sprintf("%s %q (row %d)", e.Kind, e.Name, e.Row)
	case e.Name != "":
		return fmt.Sprintf("%s %q", e.Kind, e.Name)
	case e.Row > 0:
		return fmt.Sprintf("%s row %d", e.Kind, e.Row)
	}
	return string(e.Kind)
}

// Finding codes. Each one has a message template in Templates.
const (
	CodeEmptyTeam             = "empty_team"
	CodeEmptyWorkstreams      = "empty_workstreams"
	CodeMissingName           = "missing_name"
	CodeMissingStart          = "missing_start"
	CodeInvalidDate           = "invalid_date"
	CodeInvalidStatus         = "invalid_status"
	CodeNonPositiveDuration   = "non_positive_duration"
	CodeInvalidPriority       = "invalid_priority"
	CodeInvalidConfidence     = "invalid_confidence"
	CodeInvalidLeaveType      = "invalid_leave_type"
	CodeInvalidColor          = "invalid_color"
	CodeDuplicateName         = "duplicate_name"
	CodeUnknownAssignee       = "unknown_assignee"
	CodeUnknownWorkstream     = "unknown_workstream"
	CodeUnknownLeavePerson    = "unknown_leave_person"
	CodeLeaveEndBeforeStart   = "leave_end_before_start"
	CodeActualEndIgnored      = "actual_end_ignored"
	CodeActualEndBeforeStart  = "actual_end_before_start"
	CodeBlockedComplete       = "blocked_complete"
	CodeNegativeCapacity      = "negative_capacity"
	CodeMissingCapacity       = "missing_capacity"
	CodeAllocationMismatch    = "allocation_mismatch"
	CodeAllocationOffCalendar = "allocation_off_calendar"
	CodeCapacityMismatch      = "capacity_mismatch"
	CodeDeadlineBeforeStart   = "deadline_before_start"
	CodeHolidayOnWeekend      = "holiday_on_weekend"
	CodePriorityInversion     = "priority_inversion"
	CodeEndBeforeStart        = "end_before_start"
)

// Templates maps a finding code to its message. Placeholders in braces are
// replaced from the finding's entity and params.
var Templates = map[string]string{
	CodeEmptyTeam:             "the team list is empty",
	CodeEmptyWorkstreams:      "the workstream list is empty",
	CodeMissingName:           "{entity} has no name",
	CodeMissingStart:          "{entity} has no start date",
	CodeInvalidDate:           "{entity}: {field} {value} is not a valid date",
	CodeInvalidStatus:         "{entity}: status {value} is not recognised",
	CodeNonPositiveDuration:   "{entity}: duration {value} must be greater than zero",
	CodeInvalidPriority:       "{entity}: priority {value} is not recognised, using {fallback}",
	CodeInvalidConfidence:     "{entity}: confidence {value} is not recognised",
	CodeInvalidLeaveType:      "{entity}: leave type {value} is not recognised, using Other",
	CodeInvalidColor:          "{entity}: colour {value} is not a hex colour, using {fallback}",
	CodeDuplicateName:         "{entity} is listed more than once",
	CodeUnknownAssignee:       "{entity}: assignee {value} is not on the team",
	CodeUnknownWorkstream:     "{entity}: workstream {value} does not exist",
	CodeUnknownLeavePerson:    "{entity}: person {value} is not on the team",
	CodeLeaveEndBeforeStart:   "{entity}: leave ends before it starts",
	CodeActualEndIgnored:      "{entity}: actual end is ignored unless the task is Complete",
	CodeActualEndBeforeStart:  "{entity}: actual end {value} is before the start date",
	CodeBlockedComplete:       "{entity}: completed task still has a blocked reason",
	CodeNegativeCapacity:      "{entity}: days per week {value} is negative",
	CodeMissingCapacity:       "{entity}: days per week is missing, using {fallback}",
	CodeAllocationMismatch:    "{entity}: allocations sum to {value}, expected {expected}",
	CodeAllocationOffCalendar: "{entity}: allocation on {value} is not a working day",
	CodeCapacityMismatch:      "capacity buckets hold {value} days, scheduled allocations hold {expected}",
	CodeDeadlineBeforeStart:   "{entity}: deadline {value} is before the start date",
	CodeHolidayOnWeekend:      "{entity}: {value} falls on a weekend",
	CodePriorityInversion:     "{entity}: priority {value} is more urgent than its workstream's {workstream_priority}",
	CodeEndBeforeStart:        "{entity}: computed end {value} is before the start {start}",
}

// Finding is a structured diagnostic. Findings never abort a run.
type Finding struct {
	ID         string            `json:"id"`
	Severity   Severity          `json:"severity"`
	Code       string            `json:"code"`
	Entity     EntityRef         `json:"entity"`
	Field      string            `json:"field,omitempty"`
	Value      string            `json:"value,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Excludes   bool              `json:"excludes,omitempty"`
	Template   string            `json:"template"`
}

// NewFinding fills in the template and a stable ID derived from the finding's
// identity, so identical input yields identical IDs.
func NewFinding(sev Severity, code string, entity EntityRef, field, value string) Finding {
	key := strings.Join([]string{string(sev), code, string(entity.Kind), entity.Name, fmt.Sprint(entity.Row), field, value}, "|")
	return Finding{
		ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		Severity: sev,
		Code:     code,
		Entity:   entity,
		Field:    field,
		Value:    value,
		Template: Templates[code],
	}
}

func (f Finding) WithSuggestion(s string) Finding {
	f.Suggestion = s
	return f
}

func (f Finding) WithParam(k, v string) Finding {
	params := make(map[string]string, len(f.Params)+1)
	for pk, pv := range f.Params {
		params[pk] = pv
	}
	params[k] = v
	f.Params = params
	return f
}

func (f Finding) Excluding() Finding {
	f.Excludes = true
	return f
}

// Message renders the template. A suggestion is appended when present.
func (f Finding) Message() string {
	msg := f.Template
	if msg == "" {
		msg = f.Code
	}
	pairs := []string{"{entity}", f.Entity.String(), "{field}", f.Field, "{value}", quoteOrBlank(f.Value)}
	for k, v := range f.Params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	msg = strings.NewReplacer(pairs...).Replace(msg)
	switch {
	case f.Suggestion != "":
		msg += fmt.Sprintf(" (did you mean %q?)", f.Suggestion)
	case f.Params["hint"] != "":
		msg += " (" + f.Params["hint"] + ")"
	}
	return msg
}

func quoteOrBlank(s string) string {
	if s == "" {
		return `""`
	}
	return fmt.Sprintf("%q", s)
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	out := map[Severity]int{}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}
