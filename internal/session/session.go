package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/crashwatch/internal/domain"
)

var (
	// ErrNotStarted is returned for heartbeats addressed to an unknown session
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned when a session id is started twice
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionCrashed is returned for heartbeats that arrive after a crash was declared
	ErrSessionCrashed = errors.New("session already declared crashed")
	// ErrSessionStopped is returned for heartbeats after Stop
	ErrSessionStopped = errors.New("session stopped")
)

// State is a heartbeat state
type State int

const (
	StateUnstarted State = iota
	StateArmed
	StateCrashed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateArmed:
		return "armed"
	case StateCrashed:
		return "crashed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeclareFunc persists a crash record when a session misses its deadline
type DeclareFunc func(rec domain.CrashRecord) error

// TransitionFunc observes state changes
type TransitionFunc func(t *domain.SessionTransition)

// Session is the heartbeat state of one watched session
type Session struct {
	mu            sync.Mutex
	id            string
	loc           domain.Location
	clock         clock.Clock
	deadline      time.Duration
	declare       DeclareFunc
	onTransition  TransitionFunc
	state         State
	lastHeartbeat time.Time
	timer         *clock.Timer
	generation    uint64
	declareErr    error
}

// Config configures a Session
type Config struct {
	ID           string
	Location     domain.Location
	Clock        clock.Clock
	Deadline     time.Duration
	Declare      DeclareFunc
	OnTransition TransitionFunc
}

// New creates an unstarted session
func New(cfg Config) *Session {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &Session{
		id:           cfg.ID,
		loc:          cfg.Location,
		clock:        c,
		deadline:     cfg.Deadline,
		declare:      cfg.Declare,
		onTransition: cfg.OnTransition,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Location() domain.Location { return s.loc }

// Start records the first proof of life and arms the expiry timer
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnstarted {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.id)
	}
	s.lastHeartbeat = s.clock.Now()
	s.arm()
	s.transition(StateArmed, "start")
	return nil
}

// Heartbeat refreshes lastHeartbeat and pushes the deadline out from now
func (s *Session) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnstarted:
		return fmt.Errorf("%w: %s", ErrNotStarted, s.id)
	case StateCrashed:
		return fmt.Errorf("%w: %s", ErrSessionCrashed, s.id)
	case StateStopped:
		return fmt.Errorf("%w: %s", ErrSessionStopped, s.id)
	}
	s.lastHeartbeat = s.clock.Now()
	s.arm()
	s.transition(StateArmed, "heartbeat")
	return nil
}

// Stop disarms the timer. Once Stop returns no declare can happen.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	if s.state != StateStopped {
		s.transition(StateStopped, "stop")
	}
}

// Snapshot returns the current state and last heartbeat
func (s *Session) Snapshot() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastHeartbeat
}

// RedeclarePending retries a declare that failed when the session expired.
// retried is false when no declare is outstanding.
func (s *Session) RedeclarePending() (retried bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.declareErr == nil || s.declare == nil {
		return false, nil
	}
	s.declareErr = s.declare(domain.NewCrashRecord(s.id, s.lastHeartbeat))
	return true, s.declareErr
}

// arm must be called with mu held
func (s *Session) arm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	gen := s.generation
	s.timer = s.clock.AfterFunc(s.deadline, func() { s.expire(gen) })
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// re-armed or stopped since this timer was set
	if gen != s.generation || s.state != StateArmed {
		return
	}
	s.timer = nil
	s.transition(StateCrashed, "expired")
	if s.declare != nil {
		s.declareErr = s.declare(domain.NewCrashRecord(s.id, s.lastHeartbeat))
	}
}

// transition must be called with mu held
func (s *Session) transition(to State, reason string) {
	from := s.state
	s.state = to
	if s.onTransition != nil {
		s.onTransition(domain.NewSessionTransition(s.id, from.String(), to.String(), reason, s.lastHeartbeat.UnixMilli()))
	}
}
