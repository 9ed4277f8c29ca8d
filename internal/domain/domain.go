package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPlanned    Status = "Planned"
	StatusInProgress Status = "In Progress"
	StatusComplete   Status = "Complete"
	StatusOnHold     Status = "On Hold"
)

// Statuses lists the recognised task statuses in display order.
var Statuses = []Status{StatusPlanned, StatusInProgress, StatusComplete, StatusOnHold}

// ParseStatus matches s against the recognised statuses ignoring case,
// surrounding whitespace and the separator used between words.
func ParseStatus(s string) (Status, bool) {
	key := foldKey(s)
	for _, st := range Statuses {
		if foldKey(string(st)) == key {
			return st, true
		}
	}
	return "", false
}

// Priority is an ordinal urgency level, P1 being the most urgent.
// The zero value means "not set".
type Priority string

const (
	PriorityUnset Priority = ""
	P1            Priority = "P1"
	P2            Priority = "P2"
	P3            Priority = "P3"
	P4            Priority = "P4"
)

// Priorities lists the recognised priorities, most urgent first.
var Priorities = []Priority{P1, P2, P3, P4}

// unrankedPriority sorts unset or unknown priorities after every real one.
const unrankedPriority = 9

// ParsePriority accepts P1..P4 in any case. An empty string parses to
// PriorityUnset with ok=true.
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return PriorityUnset, true
	}
	for _, p := range Priorities {
		if string(p) == s {
			return p, true
		}
	}
	return PriorityUnset, false
}

// Rank returns 1 for P1 through 4 for P4; unset priorities rank last.
func (p Priority) Rank() int {
	switch p {
	case P1:
		return 1
	case P2:
		return 2
	case P3:
		return 3
	case P4:
		return 4
	}
	return unrankedPriority
}

// LeaveType classifies a leave interval.
type LeaveType string

const (
	LeaveAnnual     LeaveType = "Annual"
	LeaveSick       LeaveType = "Sick"
	LeaveTraining   LeaveType = "Training"
	LeaveConference LeaveType = "Conference"
	LeaveOther      LeaveType = "Other"
)

var LeaveTypes = []LeaveType{LeaveAnnual, LeaveSick, LeaveTraining, LeaveConference, LeaveOther}

// ParseLeaveType accepts the bare type or the "<Type> Leave" spelling.
func ParseLeaveType(s string) (LeaveType, bool) {
	key := foldKey(s)
	key = strings.TrimSuffix(key, "leave")
	for _, lt := range LeaveTypes {
		if foldKey(string(lt)) == key {
			return lt, true
		}
	}
	return "", false
}

// Confidence is the assignee's confidence in the current estimate.
type Confidence string

const (
	ConfidenceUnset  Confidence = ""
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

var Confidences = []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

func ParseConfidence(s string) (Confidence, bool) {
	key := foldKey(s)
	if key == "" {
		return ConfidenceUnset, true
	}
	for _, c := range Confidences {
		if foldKey(string(c)) == key {
			return c, true
		}
	}
	return ConfidenceUnset, false
}

// Granularity selects the capacity bucket width.
type Granularity string

const (
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

func ParseGranularity(s string) (Granularity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "week", "weekly":
		return GranularityWeek, true
	case "month", "monthly":
		return GranularityMonth, true
	}
	return "", false
}

func foldKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return r.Replace(s)
}

// Person is a team member. DaysPerWeek may be fractional for part-time staff.
type Person struct {
	Name        string  `json:"name" yaml:"name"`
	Role        string  `json:"role,omitempty" yaml:"role,omitempty"`
	DaysPerWeek float64 `json:"days_per_week" yaml:"days_per_week"`
	Row         int     `json:"row,omitempty" yaml:"-"`
}

// LeaveInterval is an inclusive date range of absence for one person.
type LeaveInterval struct {
	Person string    `json:"person"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Type   string    `json:"type"`
	Notes  string    `json:"notes,omitempty"`
	Row    int       `json:"row,omitempty"`
}

// PublicHoliday applies to every person.
type PublicHoliday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name,omitempty"`
	Row  int       `json:"row,omitempty"`
}

type Workstream struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Priority string `json:"priority,omitempty"`
	Row      int    `json:"row,omitempty"`
}

// Task is a raw task record as handed over by the loader. Enum fields hold
// the literal input text; the validator decides what they mean.
type Task struct {
	Name         string     `json:"name"`
	Workstream   string     `json:"workstream"`
	Assignee     string     `json:"assignee"`
	Start        time.Time  `json:"start"`
	CurrentDays  float64    `json:"current_days"`
	OriginalDays float64    `json:"original_days"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority,omitempty"`
	ActualEnd    *time.Time `json:"actual_end,omitempty"`
	BlockedBy    string     `json:"blocked_by,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Confidence   string     `json:"confidence,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Row          int        `json:"row,omitempty"`
}

// Input is one immutable snapshot of everything a run needs.
type Input struct {
	People      []Person        `json:"people"`
	Leave       []LeaveInterval `json:"leave"`
	Holidays    []PublicHoliday `json:"holidays"`
	Workstreams []Workstream    `json:"workstreams"`
	Tasks       []Task          `json:"tasks"`
}

// Allocation is the fraction of one working day a task consumes.
type Allocation struct {
	Date time.Time `json:"date"`
	Days float64   `json:"days"`
}

// ScheduledTask is the planned expansion of a task onto working days.
type ScheduledTask struct {
	Task        string       `json:"task"`
	Start       time.Time    `json:"start"`
	PlannedEnd  time.Time    `json:"planned_end"`
	Allocations []Allocation `json:"allocations"`
}

// WorkingDays is the number of distinct days carrying an allocation.
func (s ScheduledTask) WorkingDays() int { return len(s.Allocations) }

// Inclusion is one row of the status matrix: which consumers see a task.
type Inclusion struct {
	UseActualEnd bool `json:"use_actual_end"`
	Capacity     bool `json:"capacity"`
	Concurrency  bool `json:"concurrency"`
	TaskCount    bool `json:"task_count"`
}

type Drift struct {
	Days       float64 `json:"days"`
	Percent    float64 `json:"percent"`
	HasPercent bool    `json:"has_percent"`
}

const (
	VarianceLate   = "late"
	VarianceEarly  = "early"
	VarianceOnTime = "on_time"
)

// Variance compares planned and actual completion in working days.
type Variance struct {
	Days      int    `json:"days"`
	Direction string `json:"direction"`
}

// ResolvedTask carries a scheduled task plus every status-dependent decision
// downstream consumers need.
type ResolvedTask struct {
	Name               string        `json:"name"`
	Row                int           `json:"row,omitempty"`
	Workstream         string        `json:"workstream"`
	Assignee           string        `json:"assignee"`
	AssigneeKnown      bool          `json:"assignee_known"`
	Status             Status        `json:"status"`
	ExplicitPriority   Priority      `json:"explicit_priority,omitempty"`
	WorkstreamPriority Priority      `json:"workstream_priority"`
	Priority           Priority      `json:"priority"`
	PriorityInversion  bool          `json:"priority_inversion,omitempty"`
	Confidence         Confidence    `json:"confidence,omitempty"`
	BlockedBy          string        `json:"blocked_by,omitempty"`
	Blocked            bool          `json:"blocked"`
	Deadline           *time.Time    `json:"deadline,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	OriginalDays       float64       `json:"original_days"`
	CurrentDays        float64       `json:"current_days"`
	Schedule           ScheduledTask `json:"schedule"`
	PlannedWorkingDays int           `json:"planned_working_days"`
	ActualEnd          *time.Time    `json:"actual_end,omitempty"`
	End                time.Time     `json:"end"`
	Allocations        []Allocation  `json:"allocations"`
	Inclusion          Inclusion     `json:"inclusion"`
	Drift              *Drift        `json:"drift,omitempty"`
	Variance           *Variance     `json:"variance,omitempty"`
}

// Overlaps reports whether [Start, End] intersects the window. Nil bounds are
// open.
func (r ResolvedTask) Overlaps(from, to *time.Time) bool {
	if from != nil && r.End.Before(*from) {
		return false
	}
	if to != nil && r.Schedule.Start.After(*to) {
		return false
	}
	return true
}

// CapacityBucket is one person's allocated versus available days in one
// week or month. Utilisation is nil when nothing is available.
type CapacityBucket struct {
	Person       string      `json:"person"`
	Start        time.Time   `json:"start"`
	Granularity  Granularity `json:"granularity"`
	Allocated    float64     `json:"allocated"`
	Available    float64     `json:"available"`
	Utilisation  *float64    `json:"utilisation"`
	OverCapacity bool        `json:"over_capacity"`
	Overshoot    float64     `json:"overshoot"`
	Tasks        int         `json:"tasks"`
}

// ConcurrencyNote flags a person juggling many tasks in the same week.
type ConcurrencyNote struct {
	Person    string    `json:"person"`
	WeekStart time.Time `json:"week_start"`
	Tasks     []string  `json:"tasks"`
}

// ExcludedTask is a task that could not be scheduled.
type ExcludedTask struct {
	Name string `json:"name"`
	Row  int    `json:"row,omitempty"`
	Code string `json:"code"`
}
