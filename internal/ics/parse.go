package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"

	applog "taskcal/internal/log"
	"taskcal/internal/model"
)

// HolidayEvent is an all-day VEVENT from a holiday feed.
type HolidayEvent struct {
	Feed    Feed
	UID     string
	Summary string
	Start   model.Date
	// Days is the length of the event, at least 1. DTEND is exclusive.
	Days     int
	RawRRule string
	ExDates  []model.Date
	// Recurrence is the RECURRENCE-ID of an override instance.
	Recurrence *model.Date
	Cancelled  bool
}

// ParseFeed extracts all-day events from an iCalendar body. Timed events
// are not holidays and are skipped.
func ParseFeed(feed Feed, body []byte) ([]HolidayEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty calendar body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []HolidayEvent
	skipped := 0
	for _, ve := range cal.Events() {
		ev, ok, err := parseEvent(feed, ve)
		if err != nil {
			applog.Warn("holiday feed event skipped", "feed", feed.ID, "err", err)
			skipped++
			continue
		}
		if !ok {
			skipped++
			continue
		}
		out = append(out, ev)
	}
	applog.Debug("holiday feed parsed", "feed", feed.ID, "events", len(out), "skipped", skipped)
	return out, nil
}

func parseEvent(feed Feed, ve *ical.VEvent) (HolidayEvent, bool, error) {
	ev := HolidayEvent{Feed: feed, Days: 1}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, false, errors.New("missing UID")
	}
	ev.UID = uid.Value

	start := ve.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		return ev, false, fmt.Errorf("%s: missing DTSTART", ev.UID)
	}
	if !isDateValue(start) {
		return ev, false, nil
	}
	d, err := parseICSDate(start.Value)
	if err != nil {
		return ev, false, fmt.Errorf("%s: DTSTART: %w", ev.UID, err)
	}
	ev.Start = d

	if end := ve.GetProperty(ical.ComponentPropertyDtEnd); end != nil {
		if e, err := parseICSDate(end.Value); err == nil && e.After(d) {
			ev.Days = e.DaysSince(d)
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.Cancelled = strings.EqualFold(p.Value, "CANCELLED")
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if x, err := parseICSDate(part); err == nil {
				ev.ExDates = append(ev.ExDates, x)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if r, err := parseICSDate(p.Value); err == nil {
			ev.Recurrence = &r
		}
	}
	return ev, true, nil
}

// isDateValue reports whether a DTSTART is a calendar date rather than a
// date-time.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSDate reads the date part of an iCalendar DATE or DATE-TIME.
func parseICSDate(v string) (model.Date, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return model.Date{}, fmt.Errorf("invalid date %q", v)
	}
	return model.ParseDate(v[0:4] + "-" + v[4:6] + "-" + v[6:8])
}
