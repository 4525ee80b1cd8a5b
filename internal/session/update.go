package session

import (
	"fmt"
	"slices"

	"taskcal/internal/apperr"
	"taskcal/internal/model"
)

// Update is a permitted session mutation. The set is closed: only the
// types in this file implement it.
type Update interface {
	apply(s *Session, st *Store) error
}

// WrongStateError is returned when an update is applied in a state it does
// not accept.
type WrongStateError struct {
	Update string
	State  State
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Update, e.State)
}

func requireState(s *Session, name string, allowed ...State) error {
	if slices.Contains(allowed, s.State) {
		return nil
	}
	return apperr.Wrap(apperr.KindStateConflict, "That action is not available right now.",
		&WrongStateError{Update: name, State: s.State})
}

// MarkProcessing moves a session into Processing while extraction runs.
// The turn's text is not recorded until the extraction result is accepted.
type MarkProcessing struct{}

func (MarkProcessing) apply(s *Session, _ *Store) error {
	if err := requireState(s, "MarkProcessing", StateAwaitingInput, StateClarification); err != nil {
		return err
	}
	s.resume = s.State
	s.State = StateProcessing
	return nil
}

// Resume returns a Processing session to the state it was in before,
// discarding nothing. Used when a turn fails recoverably.
type Resume struct{}

func (Resume) apply(s *Session, _ *Store) error {
	if err := requireState(s, "Resume", StateProcessing); err != nil {
		return err
	}
	s.State = s.resume
	s.resume = 0
	return nil
}

// EnterClarification records the turn's text and the new batch, whose
// outstanding needs are listed in Prompt.
type EnterClarification struct {
	Text   string
	Tasks  []model.Task
	Prompt string
}

func (u EnterClarification) apply(s *Session, _ *Store) error {
	if err := requireState(s, "EnterClarification", StateProcessing); err != nil {
		return err
	}
	if len(u.Tasks) == 0 {
		return fmt.Errorf("EnterClarification: empty batch")
	}
	s.Context = append(s.Context, u.Text)
	s.Tasks = model.CloneTasks(u.Tasks)
	s.Prompt = u.Prompt
	s.Rounds++
	s.State = StateClarification
	s.resume = 0
	return nil
}

// EnterDisplay records the turn's text and the fully resolved batch. The
// batch is immutable until the session is purged.
type EnterDisplay struct {
	Text  string
	Tasks []model.Task
}

func (u EnterDisplay) apply(s *Session, st *Store) error {
	if err := requireState(s, "EnterDisplay", StateProcessing); err != nil {
		return err
	}
	if len(u.Tasks) == 0 {
		return fmt.Errorf("EnterDisplay: empty batch")
	}
	for _, t := range u.Tasks {
		if !t.Resolved() {
			return fmt.Errorf("EnterDisplay: task %d has outstanding needs", t.ID)
		}
	}
	s.Context = append(s.Context, u.Text)
	s.Tasks = model.CloneTasks(u.Tasks)
	s.Prompt = ""
	s.State = StateDisplay
	s.Generation = st.nextGeneration()
	s.resume = 0
	return nil
}

// SetHolidays replaces the session's holiday attachment. It is refused in
// Display.
type SetHolidays struct {
	Holidays model.HolidaySet
}

func (u SetHolidays) apply(s *Session, _ *Store) error {
	if err := requireState(s, "SetHolidays", StateAwaitingInput, StateClarification); err != nil {
		return err
	}
	s.Holidays = u.Holidays
	return nil
}
