// Package session tracks the pending yes/no confirmation question asked when
// a query only fuzzily matches a room.
//
// Each conversation has at most one pending question. Opening a new one, or
// receiving any message, supersedes the old one. Every question carries a
// token; timer callbacks apply only while their token is still current, so a
// stale timer can never close a newer question.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
	"github.com/MoonshotLab/carmen/internal/intent"
)

// DefaultTimeout is how long a question waits for an answer.
const DefaultTimeout = 30 * time.Second

// Outcome is the transition taken when a pending question is answered.
type Outcome int

const (
	// Confirmed: the user said yes to the candidate room.
	Confirmed Outcome = iota + 1
	// Declined: the user said no.
	Declined
	// Reentered: the answer was neither yes nor no and was matched again as
	// a fresh query. Room is set only if that exact match succeeded.
	Reentered
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	case Reentered:
		return "reentered"
	default:
		return "unknown"
	}
}

// Pending is a question waiting for an answer.
type Pending struct {
	ConversationID string
	Candidate      domain.Room
	AskedAt        time.Time
	ExpiresAt      time.Time
	Token          uint64
}

// Resolution describes how an answer closed a pending question.
type Resolution struct {
	Outcome Outcome
	Pending Pending
	Room    *domain.Room
}

// ExactMatcher finds a room named in a normalized reply.
type ExactMatcher interface {
	MatchExact(normalized string) (domain.Room, bool)
}

// Stopper cancels a scheduled timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Stopper

type entry struct {
	pending Pending
	timer   Stopper
}

// Manager owns all pending questions for the process.
type Manager struct {
	matcher   ExactMatcher
	timeout   time.Duration
	now       func() time.Time
	afterFunc AfterFunc
	onExpire  func(Pending)

	mu       sync.Mutex
	seq      uint64
	sessions map[string]*entry
}

type Option func(*Manager)

// WithTimeout sets how long a question stays open. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAfterFunc replaces time.AfterFunc.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) {
		m.afterFunc = f
	}
}

// WithExpiryHook registers a callback run after a question expires unanswered.
// It runs outside the manager lock and must not send replies.
func WithExpiryHook(f func(Pending)) Option {
	return func(m *Manager) {
		m.onExpire = f
	}
}

// NewManager returns a Manager resolving re-entered answers with matcher.
func NewManager(matcher ExactMatcher, opts ...Option) *Manager {
	m := &Manager{
		matcher: matcher,
		timeout: DefaultTimeout,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Stopper {
			return time.AfterFunc(d, f)
		},
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured question lifetime.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Open starts a question about candidate, superseding any question already
// pending for the conversation.
func (m *Manager) Open(conversationID string, candidate domain.Room) Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[conversationID]; ok {
		old.timer.Stop()
		slog.Debug("pending question superseded", "conversation", conversationID, "room", old.pending.Candidate.Name)
	}

	m.seq++
	now := m.now()
	p := Pending{
		ConversationID: conversationID,
		Candidate:      candidate,
		AskedAt:        now,
		ExpiresAt:      now.Add(m.timeout),
		Token:          m.seq,
	}
	token := p.Token
	m.sessions[conversationID] = &entry{
		pending: p,
		timer:   m.afterFunc(m.timeout, func() { m.expire(conversationID, token) }),
	}
	return p
}

// Take removes and returns the live question for a conversation, cancelling
// its timer. Questions past their expiry are dropped and not returned.
func (m *Manager) Take(conversationID string) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[conversationID]
	if !ok {
		return Pending{}, false
	}
	delete(m.sessions, conversationID)
	e.timer.Stop()

	if !m.now().Before(e.pending.ExpiresAt) {
		return Pending{}, false
	}
	return e.pending, true
}

// Answer closes the live question for a conversation with the given normalized
// reply. It reports false when no question is live, in which case the reply
// should be handled as a fresh query.
func (m *Manager) Answer(conversationID, normalized string) (Resolution, bool) {
	p, ok := m.Take(conversationID)
	if !ok {
		return Resolution{}, false
	}

	switch {
	case intent.IsAffirmative(normalized):
		room := p.Candidate
		return Resolution{Outcome: Confirmed, Pending: p, Room: &room}, true
	case intent.IsNegative(normalized):
		return Resolution{Outcome: Declined, Pending: p}, true
	}

	res := Resolution{Outcome: Reentered, Pending: p}
	if m.matcher != nil {
		if room, found := m.matcher.MatchExact(normalized); found {
			res.Room = &room
		}
	}
	return res, true
}

// Len returns the number of pending questions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expire(conversationID string, token uint64) {
	m.mu.Lock()
	e, ok := m.sessions[conversationID]
	if !ok || e.pending.Token != token {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, conversationID)
	m.mu.Unlock()

	slog.Info("pending question expired", "conversation", conversationID, "room", e.pending.Candidate.Name)
	if m.onExpire != nil {
		m.onExpire(e.pending)
	}
}
