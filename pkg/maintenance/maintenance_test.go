package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/conflict"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
)

func existing(fact string) *string { return &fact }

func newStaleConflictManager(t *testing.T) *conflict.Manager {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	mgr, err := conflict.Open(t.TempDir(), 0, fake)
	if err != nil {
		t.Fatalf("open conflict manager: %v", err)
	}
	_, c := mgr.CheckConflict("alice.city", "Paris", 0.6, "chat", existing("Berlin"), 0.6)
	if err := mgr.Resolve(c.ConflictID, "A"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fake.Advance(48 * time.Hour)
	return mgr
}

func TestLoop_TickSkipsSweepWhenQueueBusy(t *testing.T) {
	q := taskqueue.New(4, 10, clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()
	if err := q.Enqueue(ctx, q.NewTask("chat-1", "hi", "m1", "alice", false)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	mgr := newStaleConflictManager(t)
	l := &Loop{
		cfg:          Config{IdleAfter: time.Minute, ResolvedConflictMaxAge: 24 * time.Hour},
		queue:        q,
		conflicts:    mgr,
		lastActivity: time.Now().Add(-time.Hour),
	}

	l.tick(ctx)

	removed, err := mgr.PruneResolved(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune after tick: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected sweep to be skipped while the queue is busy, but the stale conflict was already pruned")
	}
}

func TestLoop_TickSkipsSweepWhenNotIdleLongEnough(t *testing.T) {
	q := taskqueue.New(4, 10, clock.NewFake(time.Unix(0, 0)))
	mgr := newStaleConflictManager(t)

	l := &Loop{
		cfg:          Config{IdleAfter: time.Hour, ResolvedConflictMaxAge: 24 * time.Hour},
		queue:        q,
		conflicts:    mgr,
		lastActivity: time.Now(),
	}

	l.tick(context.Background())

	removed, err := mgr.PruneResolved(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune after tick: %v", err)
	}
	if removed != 1 {
		t.Fatal("expected sweep to be skipped before the idle threshold elapses")
	}
}

func TestLoop_TickSweepsWhenIdleLongEnough(t *testing.T) {
	q := taskqueue.New(4, 10, clock.NewFake(time.Unix(0, 0)))
	mgr := newStaleConflictManager(t)

	l := &Loop{
		cfg:          Config{IdleAfter: time.Minute, ResolvedConflictMaxAge: 24 * time.Hour},
		queue:        q,
		conflicts:    mgr,
		lastActivity: time.Now().Add(-time.Hour),
	}

	l.tick(context.Background())

	removed, err := mgr.PruneResolved(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune after tick: %v", err)
	}
	if removed != 0 {
		t.Fatal("expected the stale resolved conflict to already be pruned by the sweep")
	}
}

func TestLoop_TickWithNilComponentsDoesNotPanic(t *testing.T) {
	l := &Loop{cfg: Config{IdleAfter: 0}, lastActivity: time.Now().Add(-time.Hour)}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("tick with nil components panicked: %v", r)
		}
	}()
	// All components nil: sweep should no-op cleanly rather than panic.
	l.tick(context.Background())
}
