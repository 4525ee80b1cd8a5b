package model

import (
	"slices"
	"time"
)

// Tag classifies a task. Only "work" tasks are shifted off weekends and
// holidays.
type Tag string

const (
	TagWork     Tag = "work"
	TagPersonal Tag = "personal"
	TagUnsure   Tag = "unsure"
)

func (t Tag) Valid() bool {
	switch t {
	case TagWork, TagPersonal, TagUnsure:
		return true
	}
	return false
}

// Kind is the recurrence pattern of a task.
type Kind string

const (
	KindOneTime    Kind = "one_time"
	KindDaily      Kind = "daily"
	KindWeekday    Kind = "weekday"
	KindWeekly     Kind = "weekly"
	KindEveryNDays Kind = "every_n_days"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOneTime, KindDaily, KindWeekday, KindWeekly, KindEveryNDays:
		return true
	}
	return false
}

// Need is a fact that must be clarified before a task can be scheduled.
type Need string

const (
	NeedTime        Need = "time"
	NeedTag         Need = "tag"
	NeedAnchor      Need = "anchor"
	NeedUnsupported Need = "unsupported"
)

// AllNeeds lists every requestable need kind, in prompt order.
var AllNeeds = []Need{NeedTime, NeedTag, NeedAnchor, NeedUnsupported}

func (n Need) Valid() bool {
	return slices.Contains(AllNeeds, n)
}

// RawCandidate is a task candidate exactly as the extraction collaborator
// returns it. Nothing in it is trusted until validation.
type RawCandidate struct {
	ID    int      `json:"id"`
	Raw   string   `json:"raw"`
	Name  string   `json:"name"`
	Tag   string   `json:"tag"`
	Kind  string   `json:"kind"`
	DOW   []string `json:"dow,omitempty"`
	NDays *int     `json:"n_days,omitempty"`
	Date  *string  `json:"date,omitempty"`
	Time  *string  `json:"time,omitempty"`
	Needs []string `json:"needs,omitempty"`
}

// Task is a validated candidate.
//
// Invariant: a Task with any outstanding Need is never passed to the
// recurrence engine.
type Task struct {
	ID   int
	Name string
	Raw  string
	Tag  Tag
	// Kind is empty when the extracted recurrence was unsupported; Needs
	// then contains NeedUnsupported.
	Kind Kind
	// Weekdays is used by KindWeekly, sorted Monday first.
	Weekdays []time.Weekday
	// Interval is used by KindEveryNDays and is always ≥ 2 there.
	Interval int
	// Date is the one-time date or the every_n_days anchor.
	Date *Date
	Time *Clock
	// Needs is a sorted set in AllNeeds order.
	Needs []Need
}

// Resolved reports whether the task has no outstanding needs.
func (t Task) Resolved() bool {
	return len(t.Needs) == 0
}

// HasNeed reports whether n is outstanding.
func (t Task) HasNeed(n Need) bool {
	return slices.Contains(t.Needs, n)
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	out := t
	out.Weekdays = slices.Clone(t.Weekdays)
	out.Needs = slices.Clone(t.Needs)
	if t.Date != nil {
		d := *t.Date
		out.Date = &d
	}
	if t.Time != nil {
		c := *t.Time
		out.Time = &c
	}
	return out
}

// CloneTasks deep-copies a batch.
func CloneTasks(in []Task) []Task {
	if in == nil {
		return nil
	}
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// Occurrence is one concrete future UTC instant at which a task fires.
type Occurrence struct {
	TaskID int
	At     time.Time
	// Shifted is true when a work task was moved past a weekend or holiday.
	Shifted bool
}
