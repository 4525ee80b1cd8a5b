package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
)

// EventLength is the duration of every exported occurrence.
const EventLength = 15 * time.Minute

// Exporter writes an approved schedule as a VCALENDAR. Every occurrence is
// its own VEVENT because shifted work days cannot be expressed as a plain
// RRULE.
type Exporter struct {
	ProdID string
	Domain string
}

func NewExporter() *Exporter {
	return &Exporter{ProdID: "-//taskcal//Schedule Export//EN", Domain: "taskcal"}
}

// Export renders tasks and their occurrences, index-aligned.
func (e *Exporter) Export(tasks []model.Task, occurrences [][]model.Occurrence, now time.Time) ([]byte, error) {
	if len(tasks) != len(occurrences) {
		return nil, errors.New("export: tasks and occurrences differ in length")
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(e.ProdID)

	stamp := now.UTC()
	for i, t := range tasks {
		for _, occ := range occurrences[i] {
			at := occ.At.UTC()
			uid := fmt.Sprintf("task-%d-%d@%s", t.ID, at.Unix(), e.Domain)
			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(stamp)
			ev.SetStartAt(at)
			ev.SetEndAt(at.Add(EventLength))
			ev.SetSummary(t.Name)
			ev.SetProperty(ical.ComponentPropertyCategories, string(t.Tag))

			desc := t.Raw
			if occ.Shifted {
				desc = "Moved to the next work day. " + desc
			}
			if desc != "" {
				ev.SetDescription(desc)
			}
		}
	}
	return []byte(cal.Serialize()), nil
}
