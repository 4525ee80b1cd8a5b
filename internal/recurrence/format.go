package recurrence

import (
	"time"
)

// DisplayLayout renders e.g. "Fri, 3 Jan 2025, 17:00 (UTC+00:00, UTC)".
const DisplayLayout = "Mon, 2 Jan 2006, 15:04 (UTC-07:00, MST)"

// Format renders an occurrence for chat display. Output is always UTC.
func Format(t time.Time) string {
	return t.UTC().Format(DisplayLayout)
}

// ParseFormatted is the inverse of Format.
func ParseFormatted(s string) (time.Time, error) {
	t, err := time.Parse(DisplayLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
