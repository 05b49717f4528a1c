// Package dedup implements a time-windowed set of recently seen message IDs,
// so that webhook retries of an already-accepted delivery are silently
// absorbed instead of re-entering the pipeline.
package dedup

import (
	"sync"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

// Deduplicator tracks message_id -> first_seen_at with a sliding expiry
// window. It is in-process only and need not survive a restart.
type Deduplicator struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	window  time.Duration
	clock   clock.Clock
}

// New builds a Deduplicator with the given expiry window.
func New(window time.Duration, c clock.Clock) *Deduplicator {
	if c == nil {
		c = clock.Real{}
	}
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
		clock:  c,
	}
}

// IsDuplicate reports whether id was already seen within the window. Empty
// IDs are never considered duplicates. As a side effect it lazily expires
// stale entries and records id as seen when it was not a duplicate.
func (d *Deduplicator) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}

	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expireLocked(now)

	if _, ok := d.seen[id]; ok {
		return true
	}

	d.seen[id] = now
	return false
}

// expireLocked removes entries older than the window. Caller must hold mu.
func (d *Deduplicator) expireLocked(now time.Time) {
	for id, seenAt := range d.seen {
		if now.Sub(seenAt) > d.window {
			delete(d.seen, id)
		}
	}
}

// Len reports the number of entries currently tracked (test/diagnostic use).
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
