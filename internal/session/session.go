// Package session is the in-memory store of per-chat conversations.
//
// The store guards its map but assumes a single writer per owner: callers
// serialize work for one chat before touching its session. Mutations go
// through a closed set of Update requests, each of which names the states
// it may start from and the fields it may change.
package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"taskcal/internal/apperr"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
)

// State is the lifecycle state of a live session. Idle is the absence of a
// session and has no value here.
type State int

const (
	// StateAwaitingInput holds a session created by a holiday attachment
	// before any task text arrived.
	StateAwaitingInput State = iota + 1
	StateProcessing
	StateClarification
	StateDisplay
)

func (s State) String() string {
	switch s {
	case StateAwaitingInput:
		return "awaiting_input"
	case StateProcessing:
		return "processing"
	case StateClarification:
		return "clarification"
	case StateDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// Purge reasons, used as metric labels.
const (
	ReasonApproved = "approved"
	ReasonRejected = "rejected"
	ReasonFailed   = "failed"
	ReasonReset    = "reset"
)

var (
	ErrNotFound = apperr.New(apperr.KindStateConflict, "There is no active session.")
	ErrExists   = apperr.New(apperr.KindStateConflict, "A session is already active.")
	ErrBusy     = apperr.New(apperr.KindInput, "Too many active conversations right now. Please try again later.")
)

// Session is the conversational context of one chat.
type Session struct {
	Owner int64
	State State
	// Context is the initial text followed by every clarification reply.
	Context  []string
	Holidays model.HolidaySet
	// Tasks is set only in Clarification and Display.
	Tasks []model.Task
	// Prompt is the last clarification prompt, repeated on an empty reply.
	Prompt string
	Rounds int
	// Generation changes whenever a batch enters Display, so controls
	// from an earlier proposal or session can be told apart.
	Generation uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// resume is the state MarkProcessing left.
	resume State
}

// HasBatch reports whether a task batch from an earlier turn exists.
func (s Session) HasBatch() bool {
	return s.Tasks != nil
}

func (s Session) clone() Session {
	out := s
	out.Context = slices.Clone(s.Context)
	out.Tasks = model.CloneTasks(s.Tasks)
	return out
}

// Options configures a Store.
type Options struct {
	// MaxLive bounds the number of live sessions.
	MaxLive int
	// MaxAge is the age after which a session may be evicted.
	MaxAge  time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Store holds live sessions keyed by owner id.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	maxLive  int
	maxAge   time.Duration
	now      func() time.Time
	gen      uint64
	metrics  *metrics.Metrics
}

// NewStore builds a store. Non-positive limits fall back to 1000 sessions
// and one hour.
func NewStore(opts Options) *Store {
	if opts.MaxLive <= 0 {
		opts.MaxLive = 1000
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		sessions: make(map[int64]*Session),
		maxLive:  opts.MaxLive,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
		metrics:  opts.Metrics,
	}
}

// Create starts a session in StateAwaitingInput. At capacity, stale
// sessions are evicted first; if none are stale the store refuses with
// ErrBusy instead of dropping a live conversation.
func (s *Store) Create(owner int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[owner]; ok {
		return Session{}, ErrExists
	}
	now := s.now().UTC()
	if len(s.sessions) >= s.maxLive {
		s.evictLocked(now)
		if len(s.sessions) >= s.maxLive {
			return Session{}, ErrBusy
		}
	}
	s.gen++
	sess := &Session{
		Owner:      owner,
		State:      StateAwaitingInput,
		Generation: s.gen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.sessions[owner] = sess
	s.metrics.SessionCreated()
	s.metrics.SetLive(len(s.sessions))
	return sess.clone(), nil
}

// Get returns a copy of the owner's session.
func (s *Store) Get(owner int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Apply runs u against the owner's session and returns the new copy. A
// rejected update leaves the session untouched.
func (s *Store) Apply(owner int64, u Update) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		return Session{}, ErrNotFound
	}
	next := sess.clone()
	if err := u.apply(&next, s); err != nil {
		return Session{}, err
	}
	next.UpdatedAt = s.now().UTC()
	*sess = next
	return next.clone(), nil
}

// Purge removes the owner's session; it reports whether one existed.
func (s *Store) Purge(owner int64, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[owner]; !ok {
		return false
	}
	delete(s.sessions, owner)
	s.metrics.SessionPurged(reason)
	s.metrics.SetLive(len(s.sessions))
	return true
}

// EvictStale removes every session older than MaxAge.
func (s *Store) EvictStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.now().UTC())
}

func (s *Store) evictLocked(now time.Time) int {
	n := 0
	for owner, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.maxAge {
			delete(s.sessions, owner)
			n++
		}
	}
	if n > 0 {
		s.metrics.SessionsEvicted(n)
		s.metrics.SetLive(len(s.sessions))
	}
	return n
}

// Len returns the live session count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Summary counts live sessions by state name.
func (s *Store) Summary() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, 4)
	for _, sess := range s.sessions {
		out[sess.State.String()]++
	}
	return out
}

func (s *Store) nextGeneration() uint64 {
	s.gen++
	return s.gen
}

// IsWrongState reports whether err is a rejected update precondition.
func IsWrongState(err error) bool {
	var w *WrongStateError
	return errors.As(err, &w)
}
