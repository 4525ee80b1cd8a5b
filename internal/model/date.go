package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

	ErrDateFormat  = errors.New("date must be YYYY-MM-DD")
	ErrDateInvalid = errors.New("date does not exist in the calendar")
	ErrClockFormat = errors.New("time must be 24-hour HH:MM")
)

// Date is a calendar day. All scheduling happens in UTC, so a Date maps to
// exactly one UTC midnight. Date is comparable and usable as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD and rejects days that do not exist, such as
// 2025-02-30 or 2023-02-29.
func ParseDate(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, ErrDateFormat
	}
	y, _ := strconv.Atoi(s[0:4])
	m, _ := strconv.Atoi(s[5:7])
	d, _ := strconv.Atoi(s[8:10])
	if m < 1 || m > 12 || d < 1 || d > daysIn(time.Month(m), y) {
		return Date{}, ErrDateInvalid
	}
	return Date{Year: y, Month: time.Month(m), Day: d}, nil
}

// MustDate is ParseDate for literals in tests and defaults.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(fmt.Sprintf("model: bad date literal %q: %v", s, err))
	}
	return d
}

func daysIn(m time.Month, year int) int {
	switch m {
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// Midnight returns 00:00 UTC of the day.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At combines the day with a clock time in UTC.
func (d Date) At(c Clock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Midnight().AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday {
	return d.Midnight().Weekday()
}

// DaysSince returns the signed number of days from o to d.
func (d Date) DaysSince(o Date) int {
	return int(d.Midnight().Sub(o.Midnight()).Hours() / 24)
}

func (d Date) Before(o Date) bool { return d.Midnight().Before(o.Midnight()) }
func (d Date) After(o Date) bool  { return d.Midnight().After(o.Midnight()) }
func (d Date) IsZero() bool       { return d == Date{} }

func (d Date) String() string {
	return d.Midnight().Format(dateLayout)
}

// Clock is a time of day in 24-hour form.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts strict HH:MM with 00 ≤ HH ≤ 23 and 00 ≤ MM ≤ 59.
func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, ErrClockFormat
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return Clock{Hour: h, Minute: mm}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
