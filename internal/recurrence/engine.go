// Package recurrence computes the next concrete occurrences of a validated
// task.
//
// Every recurrence kind is compiled into an RRULE whose iterator acts as an
// advancing cursor over raw candidate instants. A bounded loop pulls from
// the cursor, drops instants that are not in the future, applies work-day
// shifting and stops after Limit matches or a hard step cap.
package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	"taskcal/internal/model"
)

const (
	// Limit is the maximum number of occurrences returned per task.
	Limit = 3

	// maxSteps caps cursor advances per task. Weekly rules over a holiday
	// heavy calendar stay far below it; it only guards pathological input.
	maxSteps = 2000

	// maxShiftDays caps work-day shifting. A holiday set covering a whole
	// year is rejected rather than looped over.
	maxShiftDays = 370
)

var weekdayRule = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Next returns up to Limit occurrences of task strictly after now, in
// ascending order. Work tasks are rolled forward past Saturdays, Sundays and
// holidays. It never fails: a task without a time, with an unknown kind,
// with outstanding needs or with a missing required date yields nil.
func Next(task model.Task, now time.Time, holidays model.HolidaySet) []model.Occurrence {
	now = now.UTC()
	if task.Time == nil || !task.Resolved() {
		return nil
	}
	cur, ok := newCursor(task, model.DateOf(now))
	if !ok {
		return nil
	}

	out := make([]model.Occurrence, 0, Limit)
	var last time.Time
	for len(out) < Limit {
		raw, ok := cur.step()
		if !ok {
			break
		}
		if !raw.After(now) {
			continue
		}
		at, shifted := raw, false
		if task.Tag == model.TagWork {
			var found bool
			at, shifted, found = toWorkday(raw, holidays)
			// Shifting only moves forward, but equality with now must
			// still be excluded.
			if !found || !at.After(now) {
				continue
			}
		}
		// Two raw instants can land on the same work day (Saturday and
		// Sunday both roll to Monday); keep the sequence strictly ascending.
		if len(out) > 0 && !at.After(last) {
			continue
		}
		out = append(out, model.Occurrence{TaskID: task.ID, At: at, Shifted: shifted})
		last = at
	}
	return out
}

// cursor walks raw candidate instants of one task.
type cursor struct {
	next  rrule.Next
	steps int
}

// step is the "next candidate" function: it advances the cursor by one
// instant, or reports exhaustion once the rule ends or maxSteps is hit.
func (c *cursor) step() (time.Time, bool) {
	if c.steps >= maxSteps {
		return time.Time{}, false
	}
	c.steps++
	t, ok := c.next()
	if !ok {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// newCursor compiles the task into an RRULE starting no earlier than today.
func newCursor(task model.Task, today model.Date) (*cursor, bool) {
	opt, ok := ruleFor(task, today)
	if !ok {
		return nil, false
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, false
	}
	return &cursor{next: r.Iterator()}, true
}

func ruleFor(task model.Task, today model.Date) (rrule.ROption, bool) {
	clock := *task.Time
	switch task.Kind {
	case model.KindOneTime:
		if task.Date == nil {
			return rrule.ROption{}, false
		}
		return rrule.ROption{Freq: rrule.DAILY, Count: 1, Dtstart: task.Date.At(clock)}, true

	case model.KindDaily:
		return rrule.ROption{Freq: rrule.DAILY, Dtstart: today.At(clock)}, true

	case model.KindWeekday:
		return rrule.ROption{
			Freq:      rrule.WEEKLY,
			Dtstart:   today.At(clock),
			Byweekday: []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR},
		}, true

	case model.KindWeekly:
		if len(task.Weekdays) == 0 {
			return rrule.ROption{}, false
		}
		days := make([]rrule.Weekday, 0, len(task.Weekdays))
		for _, wd := range task.Weekdays {
			days = append(days, weekdayRule[wd])
		}
		return rrule.ROption{Freq: rrule.WEEKLY, Dtstart: today.At(clock), Byweekday: days}, true

	case model.KindEveryNDays:
		if task.Date == nil || task.Interval < 2 {
			return rrule.ROption{}, false
		}
		base := FirstOnOrAfter(*task.Date, task.Interval, today)
		return rrule.ROption{Freq: rrule.DAILY, Interval: task.Interval, Dtstart: base.At(clock)}, true
	}
	return rrule.ROption{}, false
}

// FirstOnOrAfter returns the first day of the series anchor + k·interval
// (k ≥ 0) that is not before from.
func FirstOnOrAfter(anchor model.Date, interval int, from model.Date) model.Date {
	if !anchor.Before(from) {
		return anchor
	}
	delta := from.DaysSince(anchor)
	steps := (delta + interval - 1) / interval
	return anchor.AddDays(steps * interval)
}

// toWorkday rolls t forward one day at a time until it lands on a weekday
// that is not a holiday. shifted reports whether t moved.
func toWorkday(t time.Time, holidays model.HolidaySet) (at time.Time, shifted, ok bool) {
	for i := 0; i <= maxShiftDays; i++ {
		if IsWorkday(model.DateOf(t), holidays) {
			return t, i > 0, true
		}
		t = t.AddDate(0, 0, 1)
	}
	return time.Time{}, false, false
}

// IsWorkday reports whether d is Monday–Friday and not a holiday.
func IsWorkday(d model.Date, holidays model.HolidaySet) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays.Contains(d)
}
