package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateRejectsCalendarInvalidDays(t *testing.T) {
	bad := []string{
		"2025-02-30",
		"2023-02-29",
		"2025-04-31",
		"2025-13-01",
		"2025-00-10",
		"2025-01-32",
		"2025-01-00",
		"2025-1-05",
		"25-01-05",
		"2025/01/05",
		"",
	}
	for _, s := range bad {
		_, err := ParseDate(s)
		assert.Error(t, err, s)
	}

	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d)

	_, err = ParseDate("2000-02-29")
	assert.NoError(t, err)
	_, err = ParseDate("1900-02-29")
	assert.ErrorIs(t, err, ErrDateInvalid)
}

func TestParseClock(t *testing.T) {
	for _, s := range []string{"24:00", "7:30", "07:60", "0730", "07:30:00", "-1:00", " 07:30"} {
		_, err := ParseClock(s)
		assert.ErrorIs(t, err, ErrClockFormat, s)
	}
	c, err := ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 23, Minute: 59}, c)
	assert.Equal(t, "23:59", c.String())
}

func TestDateArithmetic(t *testing.T) {
	d := MustDate("2024-12-30")
	assert.Equal(t, MustDate("2025-01-02"), d.AddDays(3))
	assert.Equal(t, 3, MustDate("2025-01-02").DaysSince(d))
	assert.Equal(t, -3, d.DaysSince(MustDate("2025-01-02")))
	assert.Equal(t, time.Monday, d.Weekday())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, "2024-12-30", d.String())
	assert.Equal(t, time.Date(2024, 12, 30, 9, 5, 0, 0, time.UTC), d.At(Clock{Hour: 9, Minute: 5}))
	assert.Equal(t, d, DateOf(time.Date(2024, 12, 30, 23, 59, 0, 0, time.UTC)))
}

func TestHolidaySetUnion(t *testing.T) {
	a := NewHolidaySet(map[Date]string{MustDate("2025-01-01"): "New Year"})
	b := HolidaysOf(MustDate("2025-01-01"), MustDate("2025-12-25"))

	u := a.Union(b)
	assert.Equal(t, 2, u.Len())
	assert.Equal(t, "New Year", u.Name(MustDate("2025-01-01")))
	assert.True(t, u.Contains(MustDate("2025-12-25")))
	assert.Equal(t, []Date{MustDate("2025-01-01"), MustDate("2025-12-25")}, u.Dates())

	var empty HolidaySet
	assert.False(t, empty.Contains(MustDate("2025-01-01")))
	assert.Equal(t, a, a.Union(empty))
}

func TestTaskCloneIsDeep(t *testing.T) {
	d := MustDate("2025-01-01")
	task := Task{Weekdays: []time.Weekday{time.Monday}, Date: &d, Needs: []Need{NeedTime}}
	c := task.Clone()
	c.Weekdays[0] = time.Friday
	c.Date.Day = 9
	c.Needs[0] = NeedTag

	assert.Equal(t, time.Monday, task.Weekdays[0])
	assert.Equal(t, 1, task.Date.Day)
	assert.Equal(t, NeedTime, task.Needs[0])
	assert.True(t, Task{}.Resolved())
	assert.True(t, task.HasNeed(NeedTime))
}
