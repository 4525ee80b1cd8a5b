// Package validate turns raw extraction output into validated tasks.
//
// Validation is pure: no I/O and no logging. A batch either validates as a
// whole or yields one FieldError per offending candidate; callers never see
// a partially valid batch.
package validate

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"taskcal/internal/model"
)

// MaxNameRunes caps a task's display name.
const MaxNameRunes = 80

// FieldError describes the first failing check of one candidate.
type FieldError struct {
	// Position is the 1-based index of the candidate in its batch.
	Position int
	Field    string
	Value    string
	Reason   string
}

func (e FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("Task %d: %s %s", e.Position, e.Field, e.Reason)
	}
	return fmt.Sprintf("Task %d: %s %q %s", e.Position, e.Field, e.Value, e.Reason)
}

// Result is the outcome of validating a batch. Exactly one of Tasks and
// Errors is non-empty, except for an empty input batch where both are.
type Result struct {
	Tasks  []model.Task
	Errors []FieldError
}

func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Messages renders every error, one per line, in batch order.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

// Batch validates every candidate. Any failure discards the whole batch.
func Batch(raws []model.RawCandidate) Result {
	var res Result
	tasks := make([]model.Task, 0, len(raws))
	for i, raw := range raws {
		task, ferr := Candidate(raw, i+1)
		if ferr != nil {
			res.Errors = append(res.Errors, *ferr)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(res.Errors) > 0 {
		return res
	}
	res.Tasks = tasks
	return res
}

// Candidate validates a single raw candidate at the given 1-based position.
//
// Checks run in a fixed order and the first failure is returned:
//  1. date parses as a real calendar date
//  2. time is strict 24-hour HH:MM
//  3. tag is coerced (absent/unknown → personal; unsure kept)
//  4. kind is supported, otherwise flagged as needing restatement
//  5. weekly days come from the 7-day enumeration; every_n_days interval ≥ 2
//  6. name is non-empty after trimming
//  7. needs come from the known need kinds
func Candidate(raw model.RawCandidate, position int) (model.Task, *FieldError) {
	fail := func(field, value, reason string) (model.Task, *FieldError) {
		return model.Task{}, &FieldError{Position: position, Field: field, Value: value, Reason: reason}
	}

	task := model.Task{
		ID:  raw.ID,
		Raw: raw.Raw,
	}
	needs := make(map[model.Need]bool)

	if raw.Date != nil && strings.TrimSpace(*raw.Date) != "" {
		d, err := model.ParseDate(strings.TrimSpace(*raw.Date))
		if err != nil {
			return fail("date", *raw.Date, "is not a valid calendar date (YYYY-MM-DD)")
		}
		task.Date = &d
	}

	if raw.Time != nil && strings.TrimSpace(*raw.Time) != "" {
		c, err := model.ParseClock(strings.TrimSpace(*raw.Time))
		if err != nil {
			return fail("time", *raw.Time, "is not a valid 24-hour time (HH:MM)")
		}
		task.Time = &c
	} else {
		needs[model.NeedTime] = true
	}

	task.Tag = model.Tag(strings.ToLower(strings.TrimSpace(raw.Tag)))
	if !task.Tag.Valid() {
		task.Tag = model.TagPersonal
	}
	if task.Tag == model.TagUnsure {
		needs[model.NeedTag] = true
	}

	kind := model.Kind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	if kind.Valid() {
		task.Kind = kind
	} else {
		needs[model.NeedUnsupported] = true
	}

	switch task.Kind {
	case model.KindWeekly:
		if len(raw.DOW) == 0 {
			return fail("dow", "", "must list at least one day for a weekly task")
		}
		days := make([]time.Weekday, 0, len(raw.DOW))
		for _, s := range raw.DOW {
			wd, ok := parseWeekday(s)
			if !ok {
				return fail("dow", s, "is not a day of the week (Mon..Sun)")
			}
			if !slices.Contains(days, wd) {
				days = append(days, wd)
			}
		}
		slices.SortFunc(days, func(a, b time.Weekday) int { return mondayIndex(a) - mondayIndex(b) })
		task.Weekdays = days
	case model.KindEveryNDays:
		if raw.NDays == nil {
			return fail("n_days", "", "is required for an every-N-days task")
		}
		if *raw.NDays < 2 {
			return fail("n_days", fmt.Sprint(*raw.NDays), "must be at least 2")
		}
		task.Interval = *raw.NDays
	case model.KindOneTime:
		if task.Date == nil {
			needs[model.NeedAnchor] = true
		}
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return fail("name", "", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameRunes]))
	}
	task.Name = name

	for _, s := range raw.Needs {
		n := model.Need(strings.ToLower(strings.TrimSpace(s)))
		if !n.Valid() {
			return fail("needs", s, "is not a known clarification need")
		}
		needs[n] = true
	}

	for _, n := range model.AllNeeds {
		if needs[n] {
			task.Needs = append(task.Needs, n)
		}
	}
	return task, nil
}

// ToRaw converts a validated task back into extraction form. Validating the
// result yields the same task.
func ToRaw(t model.Task) model.RawCandidate {
	raw := model.RawCandidate{
		ID:   t.ID,
		Raw:  t.Raw,
		Name: t.Name,
		Tag:  string(t.Tag),
		Kind: string(t.Kind),
	}
	if t.Kind == "" {
		raw.Kind = "unsupported"
	}
	for _, wd := range t.Weekdays {
		raw.DOW = append(raw.DOW, weekdayAbbrev[wd])
	}
	if t.Kind == model.KindEveryNDays {
		n := t.Interval
		raw.NDays = &n
	}
	if t.Date != nil {
		s := t.Date.String()
		raw.Date = &s
	}
	if t.Time != nil {
		s := t.Time.String()
		raw.Time = &s
	}
	for _, n := range t.Needs {
		raw.Needs = append(raw.Needs, string(n))
	}
	return raw
}

var weekdayAbbrev = map[time.Weekday]string{
	time.Monday:    "Mon",
	time.Tuesday:   "Tue",
	time.Wednesday: "Wed",
	time.Thursday:  "Thu",
	time.Friday:    "Fri",
	time.Saturday:  "Sat",
	time.Sunday:    "Sun",
}

// WeekdayAbbrev returns the three-letter name used in extraction output.
func WeekdayAbbrev(wd time.Weekday) string {
	return weekdayAbbrev[wd]
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.TrimSpace(s)
	for wd, abbr := range weekdayAbbrev {
		if strings.EqualFold(s, abbr) || strings.EqualFold(s, wd.String()) {
			return wd, true
		}
	}
	return 0, false
}

// mondayIndex orders weekdays Monday first.
func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
