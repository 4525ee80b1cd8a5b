// Package conversation drives a chat through extraction, clarification and
// approval.
//
// The Machine is the only writer of the session store. Every error path
// ends in one of two outcomes: the session is unchanged and the user is
// told why, or the session is purged and the user is told why. Callers
// must not run two turns for the same owner at once.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"taskcal/internal/apperr"
	"taskcal/internal/extract"
	"taskcal/internal/holiday"
	applog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
	"taskcal/internal/session"
	"taskcal/internal/validate"
)

const (
	DefaultMaxRounds = 4
	DefaultMaxText   = 4096
)

// Extractor is the extraction collaborator.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (extract.Result, error)
}

// HolidaySource supplies holidays that apply to every chat, such as
// subscribed calendar feeds.
type HolidaySource interface {
	Holidays() model.HolidaySet
}

// ScheduleExporter renders an approved schedule as a file.
type ScheduleExporter interface {
	Export(tasks []model.Task, occurrences [][]model.Occurrence, now time.Time) ([]byte, error)
}

// Document is a file attached to a reply.
type Document struct {
	Name string
	Data []byte
}

// Reply is what the transport sends back.
type Reply struct {
	Text string
	// Control is set when the reply carries approve/reject buttons.
	Control *Controls
	// Document is set on approval when an exporter is configured.
	Document *Document
	// Resolved is set when a control was honored and the proposal's
	// buttons should be disabled.
	Resolved Action
}

// Options configures a Machine.
type Options struct {
	Store     *session.Store
	Extractor Extractor
	// Feeds may be nil.
	Feeds HolidaySource
	// Exporter may be nil.
	Exporter ScheduleExporter
	Now      func() time.Time
	// Budget is the extraction token budget.
	Budget    int
	MaxRounds int
	// MaxInput and MaxOutput are rune ceilings on user text and replies.
	MaxInput  int
	MaxOutput int
	Metrics   *metrics.Metrics
}

// Machine is the conversation state machine.
type Machine struct {
	store     *session.Store
	extractor Extractor
	feeds     HolidaySource
	exporter  ScheduleExporter
	now       func() time.Time
	budget    int
	maxRounds int
	maxInput  int
	maxOutput int
	metrics   *metrics.Metrics
}

func New(opts Options) *Machine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Budget <= 0 {
		opts.Budget = extract.DefaultBudget
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.MaxInput <= 0 {
		opts.MaxInput = DefaultMaxText
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxText
	}
	return &Machine{
		store:     opts.Store,
		extractor: opts.Extractor,
		feeds:     opts.Feeds,
		exporter:  opts.Exporter,
		now:       opts.Now,
		budget:    opts.Budget,
		maxRounds: opts.MaxRounds,
		maxInput:  opts.MaxInput,
		maxOutput: opts.MaxOutput,
		metrics:   opts.Metrics,
	}
}

// Help returns the usage text.
func (m *Machine) Help() Reply {
	return Reply{Text: msgHelp}
}

// Reset discards the owner's session, if any.
func (m *Machine) Reset(owner int64) Reply {
	if m.store.Purge(owner, session.ReasonReset) {
		applog.Info("session cleared", "chat_id", owner)
	}
	return Reply{Text: msgCleared}
}

// HandleText runs one turn for inbound user text.
func (m *Machine) HandleText(ctx context.Context, owner int64, text string) (reply Reply) {
	defer m.recoverTurn(owner, &reply)

	text = strings.TrimSpace(text)
	applog.Debug("inbound text", "chat_id", owner, "text", applog.Redact(text))
	if n := utf8.RuneCountInString(text); n > m.maxInput {
		return m.report(owner, apperr.New(apperr.KindInput, fmt.Sprintf(msgInputTooLong, m.maxInput)))
	}

	sess, ok := m.store.Get(owner)
	if !ok {
		if text == "" {
			return m.report(owner, apperr.New(apperr.KindInput, msgEmptyInput))
		}
		created, err := m.store.Create(owner)
		if err != nil {
			return m.report(owner, err)
		}
		applog.Info("session created", "chat_id", owner)
		return m.turn(ctx, created, text)
	}

	switch sess.State {
	case session.StateAwaitingInput:
		if text == "" {
			return m.report(owner, apperr.New(apperr.KindInput, msgEmptyInput))
		}
		return m.turn(ctx, sess, text)
	case session.StateClarification:
		if text == "" {
			return m.report(owner, apperr.New(apperr.KindClarification, sess.Prompt))
		}
		return m.turn(ctx, sess, text)
	case session.StateDisplay:
		return m.report(owner, apperr.New(apperr.KindStateConflict, msgAwaitDecision))
	default:
		return m.report(owner, apperr.New(apperr.KindStateConflict, msgBusyProcessing))
	}
}

// turn runs extraction over the accumulated context plus text and moves
// the session to Clarification or Display. The text is only recorded when
// the turn succeeds.
func (m *Machine) turn(ctx context.Context, sess session.Session, text string) Reply {
	owner := sess.Owner
	if _, err := m.store.Apply(owner, session.MarkProcessing{}); err != nil {
		return m.fail(owner, err)
	}
	applog.Info("session state", "chat_id", owner, "state", session.StateProcessing, "round", sess.Rounds)

	req := extract.Request{
		Context:  append(append([]string(nil), sess.Context...), text),
		Holidays: m.holidays(sess),
		Now:      m.now().UTC(),
		Budget:   m.budget,
	}
	res, err := m.extractor.Extract(ctx, req)
	if err != nil {
		m.store.Purge(owner, session.ReasonFailed)
		applog.Error("extraction failed", err, "chat_id", owner)
		return Reply{Text: apperr.UserMessage(err, msgGeneric)}
	}

	switch res.Outcome {
	case extract.OutcomeContextTooLarge:
		return m.keepOrPurge(sess, apperr.New(apperr.KindInput, msgContextTooLarge))
	case extract.OutcomeUnparsable:
		m.store.Purge(owner, session.ReasonFailed)
		return m.report(owner, apperr.New(apperr.KindExternalService, msgUnparsable))
	case extract.OutcomeBatch:
	default:
		return m.fail(owner, fmt.Errorf("unknown extraction outcome %d", res.Outcome))
	}

	if len(res.Candidates) == 0 {
		return m.keepOrPurge(sess, apperr.New(apperr.KindInput, msgNoTasks))
	}

	checked := validate.Batch(res.Candidates)
	if !checked.OK() {
		m.store.Purge(owner, session.ReasonFailed)
		return m.report(owner, apperr.Wrap(apperr.KindValidation, ValidationReport(checked),
			fmt.Errorf("%d invalid candidates", len(checked.Errors))))
	}
	tasks := anchorSeries(checked.Tasks, model.DateOf(sess.CreatedAt))

	if !allResolved(tasks) {
		if sess.Rounds >= m.maxRounds {
			m.store.Purge(owner, session.ReasonFailed)
			return m.report(owner, apperr.New(apperr.KindClarification, msgTooManyRounds))
		}
		prompt := ClarificationPrompt(tasks)
		if m.tooLong(prompt) {
			m.store.Purge(owner, session.ReasonFailed)
			return m.report(owner, apperr.New(apperr.KindInput, msgOutputTooLong))
		}
		next, err := m.store.Apply(owner, session.EnterClarification{Text: text, Tasks: tasks, Prompt: prompt})
		if err != nil {
			return m.fail(owner, err)
		}
		applog.Info("session state", "chat_id", owner, "state", next.State, "round", next.Rounds, "tasks", len(tasks))
		return Reply{Text: prompt}
	}

	proposal := Proposal(tasks)
	if m.tooLong(proposal) {
		m.store.Purge(owner, session.ReasonFailed)
		return m.report(owner, apperr.New(apperr.KindInput, msgOutputTooLong))
	}
	next, err := m.store.Apply(owner, session.EnterDisplay{Text: text, Tasks: tasks})
	if err != nil {
		return m.fail(owner, err)
	}
	m.metrics.ClarificationRounds(next.Rounds)
	applog.Info("session state", "chat_id", owner, "state", next.State, "tasks", len(tasks))
	return Reply{Text: proposal, Control: controlsFor(owner, next.Generation)}
}

// keepOrPurge leaves a session with an earlier batch as it was and purges
// one without.
func (m *Machine) keepOrPurge(sess session.Session, err *apperr.Error) Reply {
	if sess.HasBatch() {
		if _, rerr := m.store.Apply(sess.Owner, session.Resume{}); rerr != nil {
			return m.fail(sess.Owner, rerr)
		}
	} else {
		m.store.Purge(sess.Owner, session.ReasonFailed)
	}
	return m.report(sess.Owner, err)
}

// HandleControl honors an approve/reject payload.
func (m *Machine) HandleControl(owner int64, data string) (reply Reply) {
	defer m.recoverTurn(owner, &reply)

	c, err := ParseControl(data)
	if err != nil || c.Owner != owner {
		return m.report(owner, apperr.Wrap(apperr.KindStateConflict, msgStaleControl, err))
	}
	sess, ok := m.store.Get(owner)
	if !ok {
		return m.report(owner, apperr.New(apperr.KindStateConflict, msgNoSession))
	}
	if sess.State != session.StateDisplay || sess.Generation != c.Generation {
		return m.report(owner, apperr.New(apperr.KindStateConflict, msgStaleControl))
	}

	if c.Action == ActionReject {
		m.store.Purge(owner, session.ReasonRejected)
		applog.Info("proposal rejected", "chat_id", owner)
		return Reply{Text: msgRejected, Resolved: ActionReject}
	}

	now := m.now().UTC()
	holidays := m.holidays(sess)
	occurrences := make([][]model.Occurrence, len(sess.Tasks))
	for i, t := range sess.Tasks {
		occurrences[i] = recurrence.Next(t, now, holidays)
	}
	text := FinalSchedule(sess.Tasks, occurrences)
	if m.tooLong(text) {
		m.store.Purge(owner, session.ReasonFailed)
		return m.report(owner, apperr.New(apperr.KindInput, msgOutputTooLong))
	}
	reply = Reply{Text: text, Resolved: ActionApprove}
	if m.exporter != nil {
		data, err := m.exporter.Export(sess.Tasks, occurrences, now)
		if err != nil {
			applog.Error("schedule export failed", err, "chat_id", owner)
		} else {
			reply.Document = &Document{Name: "schedule.ics", Data: data}
		}
	}
	m.store.Purge(owner, session.ReasonApproved)
	applog.Info("proposal approved", "chat_id", owner, "tasks", len(sess.Tasks))
	return reply
}

// HandleHolidays attaches a holidays.json document to the owner's
// session, creating one when the chat is idle. A rejected attachment, or
// one sent while a proposal awaits approval, never touches the session.
func (m *Machine) HandleHolidays(owner int64, a holiday.Attachment) (reply Reply) {
	defer m.recoverTurn(owner, &reply)

	set, err := holiday.Parse(a)
	if err != nil {
		applog.Info("holiday attachment rejected", "chat_id", owner, "err", err)
		return Reply{Text: rejectionText(err)}
	}
	sess, ok := m.store.Get(owner)
	if ok && sess.State == session.StateDisplay {
		return m.report(owner, apperr.New(apperr.KindStateConflict, msgAwaitDecision))
	}
	if !ok {
		if _, err := m.store.Create(owner); err != nil {
			return m.report(owner, err)
		}
		applog.Info("session created", "chat_id", owner, "state", session.StateAwaitingInput)
	}
	if _, err := m.store.Apply(owner, session.SetHolidays{Holidays: set}); err != nil {
		if apperr.Is(err, apperr.KindStateConflict) {
			return m.report(owner, err)
		}
		return m.fail(owner, err)
	}
	applog.Info("holidays attached", "chat_id", owner, "dates", set.Len())
	return Reply{Text: msgHolidaysUpdated}
}

func rejectionText(err error) string {
	var r *holiday.Rejection
	if errors.As(err, &r) {
		return r.Error()
	}
	return apperr.UserMessage(err, holiday.CodeAttachmentInvalid)
}

func (m *Machine) holidays(sess session.Session) model.HolidaySet {
	if m.feeds == nil {
		return sess.Holidays
	}
	return sess.Holidays.Union(m.feeds.Holidays())
}

func (m *Machine) tooLong(s string) bool {
	return utf8.RuneCountInString(s) > m.maxOutput
}

// report logs a classified error and returns its user message. It never
// mutates the session.
func (m *Machine) report(owner int64, err error) Reply {
	kind := apperr.KindOf(err)
	applog.Info("turn rejected", "chat_id", owner, "kind", kind.String())
	return Reply{Text: apperr.UserMessage(err, msgGeneric)}
}

// fail handles an unrecoverable internal error: purge and report.
func (m *Machine) fail(owner int64, err error) Reply {
	applog.Error("conversation failure", err, "chat_id", owner)
	m.store.Purge(owner, session.ReasonFailed)
	return Reply{Text: msgGeneric}
}

func (m *Machine) recoverTurn(owner int64, reply *Reply) {
	if p := recover(); p != nil {
		*reply = m.fail(owner, fmt.Errorf("panic: %v", p))
	}
}

func allResolved(tasks []model.Task) bool {
	for _, t := range tasks {
		if !t.Resolved() {
			return false
		}
	}
	return true
}

// anchorSeries gives every_n_days tasks without an anchor the session's
// creation date.
func anchorSeries(tasks []model.Task, created model.Date) []model.Task {
	for i := range tasks {
		if tasks[i].Kind == model.KindEveryNDays && tasks[i].Date == nil {
			d := created
			tasks[i].Date = &d
		}
	}
	return tasks
}
