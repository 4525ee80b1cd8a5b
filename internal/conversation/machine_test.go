package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/apperr"
	"taskcal/internal/extract"
	"taskcal/internal/holiday"
	"taskcal/internal/model"
	"taskcal/internal/session"
)

const owner int64 = 4242

var testNow = time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC) // Thursday

type extractFunc func(req extract.Request) (extract.Result, error)

type fakeExtractor struct {
	fn    extractFunc
	calls []extract.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (extract.Result, error) {
	f.calls = append(f.calls, req)
	return f.fn(req)
}

type fakeExporter struct{ err error }

func (e fakeExporter) Export(tasks []model.Task, occ [][]model.Occurrence, _ time.Time) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []byte("BEGIN:VCALENDAR"), nil
}

type staticFeed model.HolidaySet

func (f staticFeed) Holidays() model.HolidaySet { return model.HolidaySet(f) }

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func gym() model.RawCandidate {
	return model.RawCandidate{
		ID: 1, Raw: "gym every Monday, Wednesday and Friday at 17:00", Name: "Gym",
		Tag: "personal", Kind: "weekly", DOW: []string{"Mon", "Wed", "Fri"}, Time: strp("17:00"),
	}
}

func batch(c ...model.RawCandidate) extractFunc {
	return func(extract.Request) (extract.Result, error) {
		return extract.Result{Outcome: extract.OutcomeBatch, Candidates: c}, nil
	}
}

func outcome(o extract.Outcome) extractFunc {
	return func(extract.Request) (extract.Result, error) {
		return extract.Result{Outcome: o}, nil
	}
}

type harness struct {
	m     *Machine
	store *session.Store
	ext   *fakeExtractor
}

func newHarness(t *testing.T, fn extractFunc, tweak ...func(*Options)) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := session.NewStore(session.Options{MaxLive: 10, MaxAge: time.Hour, Now: clock})
	ext := &fakeExtractor{fn: fn}
	opts := Options{Store: store, Extractor: ext, Exporter: fakeExporter{}, Now: clock}
	for _, f := range tweak {
		f(&opts)
	}
	return &harness{m: New(opts), store: store, ext: ext}
}

func (h *harness) state(t *testing.T) (session.Session, bool) {
	t.Helper()
	return h.store.Get(owner)
}

func TestWeeklyProposalAndApproval(t *testing.T) {
	h := newHarness(t, batch(gym()))
	ctx := context.Background()

	r := h.m.HandleText(ctx, owner, "gym every Monday, Wednesday and Friday at 17:00 [personal]")
	require.NotNil(t, r.Control)
	assert.Contains(t, r.Text, "📋 Parsed Tasks:")
	assert.Contains(t, r.Text, "1. [personal] Gym")
	assert.Contains(t, r.Text, "Every Mon, Wed, Fri")
	s, ok := h.state(t)
	require.True(t, ok)
	assert.Equal(t, session.StateDisplay, s.State)
	require.Len(t, h.ext.calls, 1)
	assert.Equal(t, []string{"gym every Monday, Wednesday and Friday at 17:00 [personal]"}, h.ext.calls[0].Context)
	assert.Equal(t, testNow, h.ext.calls[0].Now)

	r = h.m.HandleControl(owner, r.Control.Approve)
	assert.Equal(t, ActionApprove, r.Resolved)
	assert.Contains(t, r.Text, "📅 Next Occurrences:")
	lines := strings.Split(r.Text, "\n")
	var next []string
	for _, l := range lines {
		if strings.HasPrefix(l, "   - Next: ") {
			next = append(next, strings.TrimPrefix(l, "   - Next: "))
		}
	}
	assert.Equal(t, []string{
		"Fri, 3 Jan 2025, 17:00 (UTC+00:00, UTC)",
		"Mon, 6 Jan 2025, 17:00 (UTC+00:00, UTC)",
		"Wed, 8 Jan 2025, 17:00 (UTC+00:00, UTC)",
	}, next)
	require.NotNil(t, r.Document)
	assert.Equal(t, "schedule.ics", r.Document.Name)

	_, ok = h.state(t)
	assert.False(t, ok, "approval purges the session")
}

func TestWorkShiftUsesSessionAndFeedHolidays(t *testing.T) {
	backup := model.RawCandidate{
		ID: 1, Name: "Backup review", Tag: "work", Kind: "every_n_days",
		NDays: intp(3), Date: strp("2025-01-01"), Time: strp("09:00"),
	}
	h := newHarness(t, batch(backup), func(o *Options) {
		o.Now = func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) }
		o.Feeds = staticFeed(model.HolidaysOf(model.MustDate("2025-01-04")))
	})
	r := h.m.HandleText(context.Background(), owner, "backup review every 3 days from Jan 1 at 9 [work]")
	require.NotNil(t, r.Control)
	assert.Equal(t, 1, h.ext.calls[0].Holidays.Len(), "feed holidays reach extraction")

	r = h.m.HandleControl(owner, r.Control.Approve)
	assert.Contains(t, r.Text, "Mon, 6 Jan 2025, 09:00 (UTC+00:00, UTC) (moved to the next work day)")
	assert.Contains(t, r.Text, "Tue, 7 Jan 2025, 09:00")
	assert.Contains(t, r.Text, "Fri, 10 Jan 2025, 09:00")
}

func TestReject(t *testing.T) {
	h := newHarness(t, batch(gym()))
	r := h.m.HandleText(context.Background(), owner, "gym")
	r = h.m.HandleControl(owner, r.Control.Reject)
	assert.Equal(t, ActionReject, r.Resolved)
	assert.Equal(t, msgRejected, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestClarificationLoop(t *testing.T) {
	noTime := gym()
	noTime.Time = nil
	h := newHarness(t, batch(noTime))
	ctx := context.Background()

	r := h.m.HandleText(ctx, owner, "gym on Mon, Wed and Fri")
	assert.Nil(t, r.Control)
	assert.Contains(t, r.Text, `1) "Gym": What time of day (HH:MM UTC)?`)
	s, _ := h.state(t)
	assert.Equal(t, session.StateClarification, s.State)
	assert.Equal(t, 1, s.Rounds)

	h.ext.fn = batch(gym())
	r = h.m.HandleText(ctx, owner, "at 17:00")
	require.NotNil(t, r.Control)
	require.Len(t, h.ext.calls, 2)
	assert.Equal(t, []string{"gym on Mon, Wed and Fri", "at 17:00"}, h.ext.calls[1].Context,
		"re-extraction sees the whole conversation")
	s, _ = h.state(t)
	assert.Equal(t, session.StateDisplay, s.State)
}

func TestUnsureTagForcesClarification(t *testing.T) {
	unsure := gym()
	unsure.Tag = "unsure"
	h := newHarness(t, batch(unsure))

	r := h.m.HandleText(context.Background(), owner, "gym at 17:00 Mon Wed Fri")
	assert.Nil(t, r.Control, "never displayed un-clarified")
	assert.Contains(t, r.Text, "Is this [work] or [personal]?")
	s, _ := h.state(t)
	assert.Equal(t, session.StateClarification, s.State)
}

func TestEmptyClarificationReplyRepromptsWithoutExtraction(t *testing.T) {
	noTime := gym()
	noTime.Time = nil
	h := newHarness(t, batch(noTime))
	first := h.m.HandleText(context.Background(), owner, "gym")

	r := h.m.HandleText(context.Background(), owner, "   ")
	assert.Equal(t, first.Text, r.Text)
	assert.Len(t, h.ext.calls, 1)
	s, _ := h.state(t)
	assert.Equal(t, 1, s.Rounds)
}

func TestClarificationRoundCap(t *testing.T) {
	noTime := gym()
	noTime.Time = nil
	h := newHarness(t, batch(noTime), func(o *Options) { o.MaxRounds = 2 })
	ctx := context.Background()

	h.m.HandleText(ctx, owner, "gym")
	h.m.HandleText(ctx, owner, "soon")
	r := h.m.HandleText(ctx, owner, "later")
	assert.Equal(t, msgTooManyRounds, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
	assert.Len(t, h.ext.calls, 3)
}

func TestValidationFailurePurgesWholeBatch(t *testing.T) {
	bad := gym()
	bad.ID = 3
	bad.Kind = "one_time"
	bad.DOW = nil
	bad.Date = strp("2025-02-30")
	h := newHarness(t, batch(gym(), gym(), bad))

	r := h.m.HandleText(context.Background(), owner, "three tasks")
	assert.Nil(t, r.Control)
	assert.Contains(t, r.Text, `Task 3: date "2025-02-30"`)
	assert.NotContains(t, r.Text, "Parsed Tasks")
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestContextTooLarge(t *testing.T) {
	t.Run("without prior batch purges", func(t *testing.T) {
		h := newHarness(t, outcome(extract.OutcomeContextTooLarge))
		r := h.m.HandleText(context.Background(), owner, "lots of text")
		assert.Equal(t, msgContextTooLarge, r.Text)
		_, ok := h.state(t)
		assert.False(t, ok)
	})
	t.Run("with prior batch keeps session", func(t *testing.T) {
		noTime := gym()
		noTime.Time = nil
		h := newHarness(t, batch(noTime))
		h.m.HandleText(context.Background(), owner, "gym")
		before, _ := h.state(t)

		h.ext.fn = outcome(extract.OutcomeContextTooLarge)
		r := h.m.HandleText(context.Background(), owner, "a very long reply")
		assert.Equal(t, msgContextTooLarge, r.Text)
		after, ok := h.state(t)
		require.True(t, ok)
		assert.Equal(t, session.StateClarification, after.State)
		assert.Equal(t, before.Context, after.Context)
		assert.Equal(t, before.Tasks, after.Tasks)
	})
}

func TestUnparsablePurges(t *testing.T) {
	h := newHarness(t, outcome(extract.OutcomeUnparsable))
	r := h.m.HandleText(context.Background(), owner, "???")
	assert.Equal(t, msgUnparsable, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestExternalFailurePurges(t *testing.T) {
	h := newHarness(t, func(extract.Request) (extract.Result, error) {
		return extract.Result{}, apperr.Wrap(apperr.KindExternalService, "service down", errors.New("503"))
	})
	r := h.m.HandleText(context.Background(), owner, "gym")
	assert.Equal(t, "service down", r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestPanicPurgesAndReportsGenericError(t *testing.T) {
	h := newHarness(t, func(extract.Request) (extract.Result, error) { panic("boom") })
	r := h.m.HandleText(context.Background(), owner, "gym")
	assert.Equal(t, msgGeneric, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestNoTasksFound(t *testing.T) {
	h := newHarness(t, batch())
	r := h.m.HandleText(context.Background(), owner, "hello")
	assert.Equal(t, msgNoTasks, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestInputLimits(t *testing.T) {
	h := newHarness(t, batch(gym()))
	r := h.m.HandleText(context.Background(), owner, "")
	assert.Equal(t, msgEmptyInput, r.Text)

	r = h.m.HandleText(context.Background(), owner, strings.Repeat("é", DefaultMaxText+1))
	assert.Contains(t, r.Text, "too long")
	assert.Empty(t, h.ext.calls)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestOutputTooLongPurges(t *testing.T) {
	h := newHarness(t, batch(gym()), func(o *Options) { o.MaxOutput = 20 })
	r := h.m.HandleText(context.Background(), owner, "gym")
	assert.Equal(t, msgOutputTooLong, r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestDisplayRejectsOtherInputWithoutMutation(t *testing.T) {
	h := newHarness(t, batch(gym()))
	shown := h.m.HandleText(context.Background(), owner, "gym")
	before, _ := h.state(t)

	r := h.m.HandleText(context.Background(), owner, "actually make it 18:00")
	assert.Equal(t, msgAwaitDecision, r.Text)

	foreign := Control{Action: ActionApprove, Owner: owner + 1, Generation: before.Generation}.Encode()
	r = h.m.HandleControl(owner, foreign)
	assert.Equal(t, msgStaleControl, r.Text)

	stale := Control{Action: ActionApprove, Owner: owner, Generation: before.Generation - 1}.Encode()
	r = h.m.HandleControl(owner, stale)
	assert.Equal(t, msgStaleControl, r.Text)

	r = h.m.HandleControl(owner, "APR")
	assert.Equal(t, msgStaleControl, r.Text)

	after, ok := h.state(t)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Len(t, h.ext.calls, 1)

	r = h.m.HandleControl(owner, shown.Control.Approve)
	assert.Equal(t, ActionApprove, r.Resolved)
}

func TestControlAfterSessionEnded(t *testing.T) {
	h := newHarness(t, batch(gym()))
	shown := h.m.HandleText(context.Background(), owner, "gym")
	h.m.Reset(owner)

	r := h.m.HandleControl(owner, shown.Control.Approve)
	assert.Equal(t, msgNoSession, r.Text)

	// A fresh proposal gets a new generation; the old buttons stay dead.
	h.m.HandleText(context.Background(), owner, "gym")
	r = h.m.HandleControl(owner, shown.Control.Approve)
	assert.Equal(t, msgStaleControl, r.Text)
}

func TestHolidayAttachment(t *testing.T) {
	h := newHarness(t, batch(gym()))
	body := `{"version":1,"dates":[{"date":"2025-01-06","name":"Epiphany"}]}`
	att := holiday.Attachment{Name: holiday.FileName, MediaType: holiday.MediaType, Size: len(body), Data: []byte(body)}

	r := h.m.HandleHolidays(owner, att)
	assert.Equal(t, msgHolidaysUpdated, r.Text)
	s, ok := h.state(t)
	require.True(t, ok)
	assert.Equal(t, session.StateAwaitingInput, s.State)

	h.m.HandleText(context.Background(), owner, "gym")
	require.Len(t, h.ext.calls, 1)
	assert.True(t, h.ext.calls[0].Holidays.Contains(model.MustDate("2025-01-06")))
}

func TestBadHolidayAttachmentLeavesChatIdle(t *testing.T) {
	h := newHarness(t, batch(gym()))
	body := `{"version":2,"dates":[]}`
	r := h.m.HandleHolidays(owner, holiday.Attachment{Name: holiday.FileName, MediaType: holiday.MediaType, Size: len(body), Data: []byte(body)})
	assert.True(t, strings.HasPrefix(r.Text, holiday.CodeHolidaysJSONInvalid), r.Text)
	_, ok := h.state(t)
	assert.False(t, ok)
}

func TestStoreBusy(t *testing.T) {
	h := newHarness(t, batch(gym()))
	for i := int64(1); i <= 10; i++ {
		_, err := h.store.Create(i)
		require.NoError(t, err)
	}
	r := h.m.HandleText(context.Background(), owner, "gym")
	assert.Equal(t, session.ErrBusy.Msg, r.Text)
	assert.Empty(t, h.ext.calls)
}

func TestResetAndHelp(t *testing.T) {
	h := newHarness(t, batch(gym()))
	h.m.HandleText(context.Background(), owner, "gym")
	assert.Equal(t, msgCleared, h.m.Reset(owner).Text)
	_, ok := h.state(t)
	assert.False(t, ok)
	assert.Equal(t, msgCleared, h.m.Reset(owner).Text)
	assert.Contains(t, h.m.Help().Text, "holidays.json")
}

func TestEveryNDaysWithoutAnchorUsesSessionStart(t *testing.T) {
	water := model.RawCandidate{ID: 1, Name: "Water plants", Tag: "personal", Kind: "every_n_days", NDays: intp(3), Time: strp("07:30")}
	h := newHarness(t, batch(water))
	r := h.m.HandleText(context.Background(), owner, "water plants every 3 days at 07:30")
	assert.Contains(t, r.Text, "Every 3 days from 2025-01-02")
	r = h.m.HandleControl(owner, r.Control.Approve)
	assert.Contains(t, r.Text, "Sun, 5 Jan 2025, 07:30")
}

func TestHolidayAttachmentWhileDisplayedIsConflict(t *testing.T) {
	standup := model.RawCandidate{
		ID: 1, Raw: "standup daily at 17:00", Name: "Standup",
		Tag: "work", Kind: "daily", Time: strp("17:00"),
	}
	h := newHarness(t, batch(standup))
	shown := h.m.HandleText(context.Background(), owner, "standup daily at 17:00 [work]")
	require.NotNil(t, shown.Control)
	before, _ := h.state(t)

	body := `{"version":1,"dates":[{"date":"2025-01-02"}]}`
	r := h.m.HandleHolidays(owner, holiday.Attachment{Name: holiday.FileName, MediaType: holiday.MediaType, Size: len(body), Data: []byte(body)})
	assert.Equal(t, msgAwaitDecision, r.Text)

	after, ok := h.state(t)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Zero(t, after.Holidays.Len())

	r = h.m.HandleControl(owner, shown.Control.Approve)
	require.Equal(t, ActionApprove, r.Resolved)
	assert.Contains(t, r.Text, "   - Next: Thu, 2 Jan 2025, 17:00 (UTC+00:00, UTC)\n")
}
