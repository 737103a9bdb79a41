package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/vburojevic/crashwatch/internal/domain"
)

// Registry holds the sessions watched by one detector, keyed by session id
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session; ids are unique for the life of the detector
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove drops a session that failed to start
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotStarted, id)
	}
	return s, nil
}

// All returns every session ordered by id
func (r *Registry) All() []*Session {
	r.mu.RLock()
	all := lo.Values(r.sessions)
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all
}

// Locations returns the distinct crash locations of all sessions
func (r *Registry) Locations() []domain.Location {
	return lo.Uniq(lo.Map(r.All(), func(s *Session, _ int) domain.Location {
		return s.Location()
	}))
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll disarms every session
func (r *Registry) StopAll() {
	for _, s := range r.All() {
		s.Stop()
	}
}
