package model

import (
	"slices"
)

// HolidaySchemaVersion is the only accepted holiday document version.
const HolidaySchemaVersion = 1

// HolidaySet is an immutable collection of calendar days excluded from
// work-day scheduling. The zero value is an empty set.
type HolidaySet struct {
	names map[Date]string
}

// NewHolidaySet builds a set from day → name (name may be empty).
func NewHolidaySet(days map[Date]string) HolidaySet {
	if len(days) == 0 {
		return HolidaySet{}
	}
	names := make(map[Date]string, len(days))
	for d, n := range days {
		names[d] = n
	}
	return HolidaySet{names: names}
}

// HolidaysOf is a convenience constructor for unnamed days.
func HolidaysOf(days ...Date) HolidaySet {
	m := make(map[Date]string, len(days))
	for _, d := range days {
		m[d] = ""
	}
	return NewHolidaySet(m)
}

func (h HolidaySet) Contains(d Date) bool {
	_, ok := h.names[d]
	return ok
}

func (h HolidaySet) Name(d Date) string {
	return h.names[d]
}

func (h HolidaySet) Len() int {
	return len(h.names)
}

// Dates returns the days in ascending order.
func (h HolidaySet) Dates() []Date {
	out := make([]Date, 0, len(h.names))
	for d := range h.names {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Date) int {
		return a.Midnight().Compare(b.Midnight())
	})
	return out
}

// Union merges two sets; names from h win on conflicts.
func (h HolidaySet) Union(o HolidaySet) HolidaySet {
	if o.Len() == 0 {
		return h
	}
	if h.Len() == 0 {
		return o
	}
	m := make(map[Date]string, h.Len()+o.Len())
	for d, n := range o.names {
		m[d] = n
	}
	for d, n := range h.names {
		m[d] = n
	}
	return HolidaySet{names: m}
}

// HolidayEntry is one item of the holiday document.
type HolidayEntry struct {
	Date string  `json:"date" validate:"required,datetime=2006-01-02"`
	Name *string `json:"name,omitempty"`
}

// HolidayDocument is the versioned attachment payload:
// {"version": 1, "dates": [{"date": "YYYY-MM-DD", "name": "..."}]}.
type HolidayDocument struct {
	Version int            `json:"version" validate:"eq=1"`
	Dates   []HolidayEntry `json:"dates" validate:"dive"`
}
