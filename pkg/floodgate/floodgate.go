// Package floodgate batches rapidly arriving messages for the same chat
// into a single debounced callback invocation: the same cancel-and-
// reschedule timer pattern pkg/config/watcher.go uses for config hot-reload,
// generalized from one shared timer to one timer per chat_id.
package floodgate

import (
	"strings"
	"sync"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

// Callback is invoked exactly once per batch with the joined text (arrival
// order preserved) and the most recent metadata blob for that chat.
type Callback func(chatID, combinedText string, lastMetadata any)

type buffer struct {
	texts    []string
	metadata any
	timer    clock.Timer
	done     chan struct{}
}

// Gate debounces arrivals per chat_id, flushing via cb after window of
// inactivity. Each arrival for a chat_id cancels and reschedules that
// chat's pending flush (sliding debounce).
type Gate struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	window  time.Duration
	clock   clock.Clock
	cb      Callback
}

// New builds a Gate with the given debounce window and callback.
func New(window time.Duration, c clock.Clock, cb Callback) *Gate {
	if c == nil {
		c = clock.Real{}
	}
	return &Gate{
		buffers: make(map[string]*buffer),
		window:  window,
		clock:   c,
		cb:      cb,
	}
}

// Incoming records a new arrival for chatID. The first arrival for a chat
// opens a new buffer and schedules a flush; subsequent arrivals append,
// replace the metadata, and reschedule the flush.
func (g *Gate) Incoming(chatID, text string, metadata any) {
	g.mu.Lock()

	b, ok := g.buffers[chatID]
	if !ok {
		b = &buffer{}
		g.buffers[chatID] = b
	} else {
		if b.timer != nil {
			b.timer.Stop()
		}
		if b.done != nil {
			close(b.done)
		}
	}

	b.texts = append(b.texts, text)
	b.metadata = metadata
	b.timer = g.clock.NewTimer(g.window)
	b.done = make(chan struct{})
	timerC := b.timer.C()
	done := b.done

	g.mu.Unlock()

	// Stop does not signal or close the timer's channel, so a rescheduled
	// timer's waiter must be woken through done instead of blocking on
	// timerC forever.
	go func() {
		select {
		case <-timerC:
			g.flush(chatID)
		case <-done:
		}
	}()
}

// flush removes the buffer for chatID atomically and invokes the callback.
// Further arrivals that land after the buffer is removed begin a fresh one.
func (g *Gate) flush(chatID string) {
	g.mu.Lock()
	b, ok := g.buffers[chatID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.buffers, chatID)
	g.mu.Unlock()

	combined := strings.Join(b.texts, "\n\n")
	if g.cb != nil {
		g.cb(chatID, combined, b.metadata)
	}
}

// Flush forces an immediate flush of chatID's pending buffer, if any. Used
// on shutdown to deliver pending buffers best-effort.
func (g *Gate) Flush(chatID string) {
	g.mu.Lock()
	b, ok := g.buffers[chatID]
	if ok {
		if b.timer != nil {
			b.timer.Stop()
		}
		if b.done != nil {
			close(b.done)
		}
	}
	g.mu.Unlock()
	if ok {
		g.flush(chatID)
	}
}

// FlushAll force-flushes every pending buffer (best-effort shutdown drain).
func (g *Gate) FlushAll() {
	g.mu.Lock()
	ids := make([]string, 0, len(g.buffers))
	for id := range g.buffers {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.Flush(id)
	}
}

// DiscardAll drops every pending buffer without invoking the callback.
func (g *Gate) DiscardAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.buffers {
		if b.timer != nil {
			b.timer.Stop()
		}
		if b.done != nil {
			close(b.done)
		}
	}
	g.buffers = make(map[string]*buffer)
}

// Pending reports how many chats currently have an open buffer (diagnostic).
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffers)
}
