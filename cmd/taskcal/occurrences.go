package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/conversation"
	"taskcal/internal/extract"
	"taskcal/internal/holiday"
	"taskcal/internal/ics"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
	"taskcal/internal/validate"
)

type occurrencesFlags struct {
	now      string
	holidays string
	icsOut   string
}

// newOccurrencesCmd validates raw candidates offline and prints their next
// occurrences, for debugging the engine without a chat.
func newOccurrencesCmd() *cobra.Command {
	var flags occurrencesFlags
	cmd := &cobra.Command{
		Use:   "occurrences [candidates.json]",
		Short: "Validate raw task candidates and print their next occurrences",
		Long: "Reads a JSON array of task candidates (from the file argument or stdin), " +
			"validates it and prints up to three UTC occurrences per task.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runOccurrences(cmd.OutOrStdout(), in, flags)
		},
	}
	cmd.Flags().StringVar(&flags.now, "now", "", "Reference instant, RFC3339 (default: current time)")
	cmd.Flags().StringVar(&flags.holidays, "holidays", "", "Path to a holidays.json document")
	cmd.Flags().StringVar(&flags.icsOut, "ics", "", "Also write the schedule as an iCalendar file")
	return cmd
}

func runOccurrences(out io.Writer, in io.Reader, flags occurrencesFlags) error {
	now := time.Now().UTC()
	if flags.now != "" {
		t, err := time.Parse(time.RFC3339, flags.now)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		now = t.UTC()
	}

	var holidays model.HolidaySet
	if flags.holidays != "" {
		data, err := os.ReadFile(flags.holidays)
		if err != nil {
			return err
		}
		holidays, err = holiday.Parse(holiday.Attachment{
			Name:      holiday.FileName,
			MediaType: holiday.MediaType,
			Size:      len(data),
			Data:      data,
		})
		if err != nil {
			return fmt.Errorf("--holidays: %w", err)
		}
	}

	body, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	raws, err := extract.Decode(string(body))
	if err != nil {
		return fmt.Errorf("candidates: %w", err)
	}

	res := validate.Batch(raws)
	if !res.OK() {
		fmt.Fprintln(out, conversation.ValidationReport(res))
		return errors.New("validation failed")
	}

	today := model.DateOf(now)
	var tasks []model.Task
	var occurrences [][]model.Occurrence
	for _, t := range res.Tasks {
		if !t.Resolved() {
			fmt.Fprintf(out, "Task %d %q needs clarification: %v\n", t.ID, t.Name, t.Needs)
			continue
		}
		if t.Kind == model.KindEveryNDays && t.Date == nil {
			t.Date = &today
		}
		tasks = append(tasks, t)
		occurrences = append(occurrences, recurrence.Next(t, now, holidays))
	}
	if len(tasks) == 0 {
		return nil
	}
	fmt.Fprintln(out, conversation.FinalSchedule(tasks, occurrences))

	if flags.icsOut != "" {
		data, err := ics.NewExporter().Export(tasks, occurrences, now)
		if err != nil {
			return err
		}
		if err := os.WriteFile(flags.icsOut, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
