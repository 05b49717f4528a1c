package floodgate

import (
	"runtime"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func TestGate_BatchesAndDebounces(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))

	type flushed struct {
		chatID string
		text   string
		meta   any
	}
	results := make(chan flushed, 1)

	g := New(time.Second, fake, func(chatID, combinedText string, lastMetadata any) {
		results <- flushed{chatID, combinedText, lastMetadata}
	})

	g.Incoming("chat-1", "hello", "meta-1")
	g.Incoming("chat-1", "world", "meta-2")

	if g.Pending() != 1 {
		t.Fatalf("expected 1 pending buffer, got %d", g.Pending())
	}

	fake.Advance(2 * time.Second)

	select {
	case r := <-results:
		if r.chatID != "chat-1" {
			t.Errorf("expected chat-1, got %s", r.chatID)
		}
		if r.text != "hello\n\nworld" {
			t.Errorf("expected joined text, got %q", r.text)
		}
		if r.meta != "meta-2" {
			t.Errorf("expected last metadata to win, got %v", r.meta)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush callback")
	}

	if g.Pending() != 0 {
		t.Fatalf("expected buffer to be cleared after flush, got %d pending", g.Pending())
	}
}

func TestGate_DiscardAllSkipsCallback(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	called := false
	g := New(time.Second, fake, func(chatID, combinedText string, lastMetadata any) {
		called = true
	})

	g.Incoming("chat-1", "hello", nil)
	g.DiscardAll()

	fake.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if called {
		t.Fatal("discarded buffer should never invoke the callback")
	}
	if g.Pending() != 0 {
		t.Fatalf("expected no pending buffers after discard, got %d", g.Pending())
	}
}

func TestGate_IncomingDoesNotLeakWaitersOnReschedule(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	flushes := 0
	g := New(time.Second, fake, func(chatID, combinedText string, lastMetadata any) {
		flushes++
	})

	before := runtime.NumGoroutine()

	const arrivals = 50
	for i := 0; i < arrivals; i++ {
		g.Incoming("chat-1", "msg", nil)
	}

	fake.Advance(2 * time.Second)
	// Give the surviving waiter and the cancelled ones a moment to settle.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if got := runtime.NumGoroutine(); got > before+1 {
		t.Fatalf("expected superseded debounce waiters to exit instead of leaking, goroutines before=%d after=%d", before, got)
	}
	if flushes != 1 {
		t.Fatalf("expected exactly one flush for the batched arrivals, got %d", flushes)
	}
}
