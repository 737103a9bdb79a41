package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/crashwatch/internal/protocol"
)

// Dedupe suppresses repeated crash notifications. The store may report the
// same record twice when a delete fails, so the host collapses them here.
type Dedupe struct {
	mu     sync.Mutex
	window time.Duration // 0 = remember every notification for the client's lifetime
	clock  clock.Clock
	seen   map[string]*dedupeEntry
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// DedupeResult holds the result of a dedupe check
type DedupeResult struct {
	ShouldEmit bool
	Count      int // 1 = first occurrence
	FirstSeen  time.Time
	LastSeen   time.Time
}

// NewDedupe creates a filter. A record is identified by its session id and
// last heartbeat, so a session that crashes again is reported again.
func NewDedupe(window time.Duration, clk clock.Clock) *Dedupe {
	if clk == nil {
		clk = clock.New()
	}
	return &Dedupe{
		window: window,
		clock:  clk,
		seen:   make(map[string]*dedupeEntry),
	}
}

func dedupeKey(p protocol.TelemetryParams) string {
	return fmt.Sprintf("%s@%d", p.SessionID, p.LastHeartbeat)
}

// Check reports whether p should be delivered
func (f *Dedupe) Check(p protocol.TelemetryParams) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dedupeKey(p)
	now := f.clock.Now()

	if f.window > 0 {
		f.cleanOldEntries(now)
	}

	if existing, ok := f.seen[key]; ok {
		existing.count++
		existing.lastSeen = now
		return DedupeResult{
			ShouldEmit: false,
			Count:      existing.count,
			FirstSeen:  existing.firstSeen,
			LastSeen:   existing.lastSeen,
		}
	}

	f.seen[key] = &dedupeEntry{count: 1, firstSeen: now, lastSeen: now}
	return DedupeResult{ShouldEmit: true, Count: 1, FirstSeen: now, LastSeen: now}
}

// Suppressed returns how many duplicates were dropped per record key
func (f *Dedupe) Suppressed() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]int)
	for key, entry := range f.seen {
		if entry.count > 1 {
			result[key] = entry.count - 1
		}
	}
	return result
}

// Reset clears the deduplication state
func (f *Dedupe) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
}

func (f *Dedupe) cleanOldEntries(now time.Time) {
	cutoff := now.Add(-f.window)
	for key, entry := range f.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
