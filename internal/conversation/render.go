package conversation

import (
	"fmt"
	"strings"

	"taskcal/internal/model"
	"taskcal/internal/recurrence"
	"taskcal/internal/validate"
)

// User-facing messages.
const (
	msgHelp = "I turn your tasks into a schedule.\n\n" +
		"Examples:\n" +
		"- Pay invoices every weekday at 09:00 [work]\n" +
		"- Gym on Mon and Wed at 19:00 [personal]\n" +
		"- Water plants every 3 days at 07:30 starting 2025-08-09\n\n" +
		"Attach one file named holidays.json (application/json, at most 256 KB) to skip holidays for work tasks.\n" +
		"All times are UTC. When I show the task list, approve or reject it with the buttons. Use /clear to start over."

	msgCleared         = "Session cleared."
	msgHolidaysUpdated = "Holidays updated for this session."
	msgEmptyInput      = "Please describe at least one task."
	msgInputTooLong    = "That message is too long. Please send at most %d characters."
	msgOutputTooLong   = "The result is too long to send. Please split your tasks into smaller batches."
	msgContextTooLarge = "This conversation has grown too large to process. Use /clear and send fewer tasks at once."
	msgUnparsable      = "I couldn't parse that. Please restate each task and include times like HH:MM."
	msgNoTasks         = "I couldn't find any tasks in that message."
	msgTooManyRounds   = "I still couldn't resolve every task. Please start over with /clear and describe each task with its time and schedule."
	msgAwaitDecision   = "Please approve or reject the proposed tasks first, or use /clear to start over."
	msgBusyProcessing  = "I'm still working on your previous message."
	msgStaleControl    = "This button is no longer valid."
	msgNoSession       = "There is nothing to approve. Send me some tasks first."
	msgRejected        = "Rejected. Send new tasks whenever you're ready."
	msgGeneric         = "Something went wrong while processing your request. Please start over."
)

func recurrenceLabel(t model.Task) string {
	switch t.Kind {
	case model.KindOneTime:
		if t.Date == nil {
			return "Once"
		}
		return "On " + t.Date.String()
	case model.KindDaily:
		return "Daily"
	case model.KindWeekday:
		return "Every weekday"
	case model.KindWeekly:
		days := make([]string, 0, len(t.Weekdays))
		for _, wd := range t.Weekdays {
			days = append(days, validate.WeekdayAbbrev(wd))
		}
		return "Every " + strings.Join(days, ", ")
	case model.KindEveryNDays:
		if t.Date == nil {
			return fmt.Sprintf("Every %d days", t.Interval)
		}
		return fmt.Sprintf("Every %d days from %s", t.Interval, t.Date)
	}
	return "Unsupported"
}

// ClarificationPrompt lists, per unresolved task, the facts still missing.
func ClarificationPrompt(tasks []model.Task) string {
	var b strings.Builder
	b.WriteString("I need a few clarifications before I can schedule:")
	n := 0
	for _, t := range tasks {
		if t.Resolved() {
			continue
		}
		n++
		qs := make([]string, 0, len(t.Needs))
		for _, need := range t.Needs {
			qs = append(qs, question(t, need))
		}
		fmt.Fprintf(&b, "\n%d) %q: %s", n, t.Name, strings.Join(qs, " "))
	}
	if n == 0 {
		return "Everything looks clear."
	}
	return b.String()
}

func question(t model.Task, need model.Need) string {
	switch need {
	case model.NeedTime:
		return "What time of day (HH:MM UTC)?"
	case model.NeedTag:
		return "Is this [work] or [personal]?"
	case model.NeedAnchor:
		if t.Kind == model.KindEveryNDays {
			return "From which start date (YYYY-MM-DD)?"
		}
		return "On which date (YYYY-MM-DD)?"
	case model.NeedUnsupported:
		return "That repetition is not supported. Please restate it as one-time, daily, every weekday, weekly on given days or every N days."
	}
	return ""
}

// Proposal renders a fully resolved batch for approval.
func Proposal(tasks []model.Task) string {
	var b strings.Builder
	b.WriteString("📋 Parsed Tasks:\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n", i+1, t.Tag, t.Name)
		if t.Time != nil {
			fmt.Fprintf(&b, "   - Time: %s UTC\n", t.Time)
		} else {
			b.WriteString("   - Time: (missing)\n")
		}
		fmt.Fprintf(&b, "   - Recurrence: %s\n", recurrenceLabel(t))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FinalSchedule renders the approved batch with each task's occurrences;
// occurrences[i] belongs to tasks[i].
func FinalSchedule(tasks []model.Task, occurrences [][]model.Occurrence) string {
	var b strings.Builder
	b.WriteString("📅 Next Occurrences:\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d) [%s] %q\n", i+1, t.Tag, t.Name)
		if len(occurrences[i]) == 0 {
			b.WriteString("   - Next: (none)\n")
			continue
		}
		for _, o := range occurrences[i] {
			line := "   - Next: " + recurrence.Format(o.At)
			if o.Shifted {
				line += " (moved to the next work day)"
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ValidationReport combines every field error of a rejected batch.
func ValidationReport(res validate.Result) string {
	var b strings.Builder
	b.WriteString("Some tasks could not be understood, so nothing was scheduled:")
	for _, m := range res.Messages() {
		b.WriteString("\n- " + m)
	}
	b.WriteString("\nPlease send your tasks again.")
	return b.String()
}
