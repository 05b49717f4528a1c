package conflict

import (
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func existing(fact string) *string { return &fact }

func TestManager_CheckConflictDecisionTable(t *testing.T) {
	m, err := Open(t.TempDir(), 0, clock.NewFake(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if d, _ := m.CheckConflict("alice.city", "Paris", 0.8, "chat", nil, 0); d != DecisionNew {
		t.Errorf("expected NEW with no existing fact, got %s", d)
	}
	if d, _ := m.CheckConflict("alice.city", "Paris", 0.8, "chat", existing("Paris"), 0.8); d != DecisionSame {
		t.Errorf("expected SAME for an identical fact, got %s", d)
	}
	if d, _ := m.CheckConflict("alice.city", "Paris", 0.95, "chat", existing("Berlin"), 0.2); d != DecisionOverwrite {
		t.Errorf("expected OVERWRITE for high-confidence new vs low-confidence old, got %s", d)
	}
	if d, _ := m.CheckConflict("alice.city", "Paris", 0.2, "chat", existing("Berlin"), 0.95); d != DecisionIgnore {
		t.Errorf("expected IGNORE for low-confidence new vs high-confidence old, got %s", d)
	}
	d, c := m.CheckConflict("alice.city", "Paris", 0.6, "chat", existing("Berlin"), 0.6)
	if d != DecisionConflict {
		t.Fatalf("expected CONFLICT for two middling-confidence facts, got %s", d)
	}
	if c == nil || c.Subject != "alice.city" || c.OptionA.Fact != "Berlin" || c.OptionB.Fact != "Paris" {
		t.Fatalf("unexpected conflict record: %+v", c)
	}
	if m.PendingCount() != 1 {
		t.Fatalf("expected conflict to be queued as pending, got count %d", m.PendingCount())
	}
}

func TestManager_ResolveMarksResolved(t *testing.T) {
	m, err := Open(t.TempDir(), 0, clock.NewFake(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, c := m.CheckConflict("alice.city", "Paris", 0.6, "chat", existing("Berlin"), 0.6)
	if err := m.Resolve(c.ConflictID, "B"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.PendingCount() != 0 {
		t.Fatalf("expected resolved conflict to drop out of pending, got %d", m.PendingCount())
	}
	if err := m.Resolve("does-not-exist", "A"); err == nil {
		t.Fatal("expected an error resolving an unknown conflict_id")
	}
}

func TestManager_PruneLockedCapsPendingQueue(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m, err := Open(t.TempDir(), 2, fake)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 3; i++ {
		m.CheckConflict("subject", "new", 0.6, "chat", existing("old"), 0.6)
		fake.Advance(time.Minute)
	}

	if got := m.PendingCount(); got != 2 {
		t.Fatalf("expected pending queue capped at 2, got %d", got)
	}
	pending := m.Pending()
	if pending[0].ConflictID != "c1" || pending[1].ConflictID != "c2" {
		t.Fatalf("expected the oldest pending conflict to be pruned first, got %+v", pending)
	}
}

func TestManager_PruneResolvedDropsOldResolvedOnes(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m, err := Open(t.TempDir(), 0, fake)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, c1 := m.CheckConflict("s1", "new", 0.6, "chat", existing("old"), 0.6)
	m.Resolve(c1.ConflictID, "A")

	fake.Advance(2 * time.Hour)

	_, c2 := m.CheckConflict("s2", "new", 0.6, "chat", existing("old"), 0.6)
	m.Resolve(c2.ConflictID, "B")

	removed, err := m.PruneResolved(time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected exactly one stale resolved conflict pruned, got %d", removed)
	}
}

func TestManager_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	fake := clock.NewFake(time.Unix(0, 0))

	m1, err := Open(dir, 0, fake)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m1.CheckConflict("alice.city", "Paris", 0.6, "chat", existing("Berlin"), 0.6)

	m2, err := Open(dir, 0, fake)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m2.PendingCount() != 1 {
		t.Fatalf("expected conflict to survive reopen, got count %d", m2.PendingCount())
	}

	// A reopened manager must not reuse conflict IDs already on disk.
	_, c := m2.CheckConflict("bob.city", "Rome", 0.6, "chat", existing("Milan"), 0.6)
	if c.ConflictID != "c1" {
		t.Fatalf("expected next id to continue from persisted state, got %s", c.ConflictID)
	}
}
