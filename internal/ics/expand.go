package ics

import (
	"errors"

	"github.com/teambition/rrule-go"

	applog "taskcal/internal/log"
	"taskcal/internal/model"
)

const defaultMaxPerEvent = 1000

// ExpandConfig bounds holiday expansion.
type ExpandConfig struct {
	// From and To are the inclusive window of days to produce.
	From model.Date
	To   model.Date
	// MaxPerEvent caps the instances of one recurring event.
	MaxPerEvent int
}

// ExpandResult is the day → name map covered by a feed window.
type ExpandResult struct {
	Days map[model.Date]string
	// Truncated lists UIDs that hit MaxPerEvent.
	Truncated []string
}

// Expand turns feed events into holiday days within the window. It handles
// single and multi-day events, RRULE recurrences with EXDATE, and
// RECURRENCE-ID overrides that move or cancel one instance.
func Expand(events []HolidayEvent, cfg ExpandConfig) (ExpandResult, error) {
	res := ExpandResult{Days: make(map[model.Date]string)}
	if cfg.To.Before(cfg.From) {
		return res, errors.New("expand: window end before start")
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxPerEvent
	}

	base := make(map[string][]HolidayEvent)
	overrides := make(map[string][]HolidayEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			base[ev.UID] = append(base[ev.UID], ev)
		}
	}

	for uid, evs := range base {
		for _, ev := range evs {
			starts, capped := instances(ev, cfg)
			if capped {
				res.Truncated = append(res.Truncated, uid)
				applog.Warn("holiday expansion truncated", "uid", uid, "cap", cfg.MaxPerEvent)
			}
			for _, s := range starts {
				inst, replaced := findOverride(overrides[uid], s)
				if replaced {
					if inst.Cancelled {
						continue
					}
					addSpan(res.Days, inst.Start, inst.Days, inst.Summary, cfg)
					continue
				}
				addSpan(res.Days, s, ev.Days, ev.Summary, cfg)
			}
		}
	}
	return res, nil
}

// instances returns the start days of ev whose span touches the window.
func instances(ev HolidayEvent, cfg ExpandConfig) ([]model.Date, bool) {
	if ev.Cancelled {
		return nil, false
	}
	if ev.RawRRule == "" {
		if spanTouches(ev.Start, ev.Days, cfg) {
			return []model.Date{ev.Start}, false
		}
		return nil, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		applog.Warn("holiday RRULE unparsable", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start.Midnight())
	var set rrule.Set
	set.RRule(r)
	for _, x := range ev.ExDates {
		set.ExDate(x.Midnight())
	}

	// Widen the lower bound so spans that started earlier still count.
	from := cfg.From.AddDays(-(ev.Days - 1)).Midnight()
	times := set.Between(from, cfg.To.Midnight(), true)
	capped := false
	if len(times) > cfg.MaxPerEvent {
		times = times[:cfg.MaxPerEvent]
		capped = true
	}
	out := make([]model.Date, 0, len(times))
	for _, t := range times {
		out = append(out, model.DateOf(t))
	}
	return out, capped
}

func findOverride(overrides []HolidayEvent, start model.Date) (HolidayEvent, bool) {
	for _, o := range overrides {
		if *o.Recurrence == start {
			return o, true
		}
	}
	return HolidayEvent{}, false
}

func spanTouches(start model.Date, days int, cfg ExpandConfig) bool {
	last := start.AddDays(max(days, 1) - 1)
	return !last.Before(cfg.From) && !start.After(cfg.To)
}

func addSpan(dst map[model.Date]string, start model.Date, days int, name string, cfg ExpandConfig) {
	for i := 0; i < max(days, 1); i++ {
		d := start.AddDays(i)
		if d.Before(cfg.From) || d.After(cfg.To) {
			continue
		}
		if _, seen := dst[d]; !seen || dst[d] == "" {
			dst[d] = name
		}
	}
}
