package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"taskcal/internal/model"
	"taskcal/internal/validate"
)

func TestClarificationPromptListsEveryNeed(t *testing.T) {
	tasks := []model.Task{
		{Name: "Gym", Kind: model.KindDaily, Tag: model.TagPersonal, Time: &model.Clock{Hour: 7}},
		{Name: "Report", Tag: model.TagUnsure, Kind: model.KindOneTime, Needs: []model.Need{model.NeedTime, model.NeedTag, model.NeedAnchor}},
		{Name: "Rent", Tag: model.TagPersonal, Needs: []model.Need{model.NeedUnsupported}},
	}
	got := ClarificationPrompt(tasks)
	assert.Equal(t, "I need a few clarifications before I can schedule:\n"+
		`1) "Report": What time of day (HH:MM UTC)? Is this [work] or [personal]? On which date (YYYY-MM-DD)?`+"\n"+
		`2) "Rent": That repetition is not supported. Please restate it as one-time, daily, every weekday, weekly on given days or every N days.`,
		got)

	assert.Equal(t, "Everything looks clear.", ClarificationPrompt(tasks[:1]))
}

func TestRecurrenceLabels(t *testing.T) {
	d := model.MustDate("2025-03-01")
	cases := map[string]model.Task{
		"On 2025-03-01":                {Kind: model.KindOneTime, Date: &d},
		"Daily":                        {Kind: model.KindDaily},
		"Every weekday":                {Kind: model.KindWeekday},
		"Every Mon, Fri":               {Kind: model.KindWeekly, Weekdays: []time.Weekday{time.Monday, time.Friday}},
		"Every 3 days from 2025-03-01": {Kind: model.KindEveryNDays, Interval: 3, Date: &d},
		"Unsupported":                  {},
	}
	for want, task := range cases {
		assert.Equal(t, want, recurrenceLabel(task))
	}
}

func TestFinalScheduleMarksEmptyTasks(t *testing.T) {
	d := model.MustDate("2024-01-01")
	tasks := []model.Task{
		{Name: "Past", Tag: model.TagPersonal, Kind: model.KindOneTime, Date: &d, Time: &model.Clock{Hour: 9}},
	}
	got := FinalSchedule(tasks, [][]model.Occurrence{nil})
	assert.Equal(t, "📅 Next Occurrences:\n\n1) [personal] \"Past\"\n   - Next: (none)", got)
}

func TestValidationReport(t *testing.T) {
	res := validate.Result{Errors: []validate.FieldError{
		{Position: 1, Field: "time", Value: "25:00", Reason: "is not a valid 24-hour time (HH:MM)"},
		{Position: 3, Field: "name", Reason: "must not be empty"},
	}}
	got := ValidationReport(res)
	assert.Contains(t, got, "\n- Task 1: time \"25:00\" is not a valid 24-hour time (HH:MM)\n")
	assert.Contains(t, got, "\n- Task 3: name must not be empty\n")
}
