package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func TestIndex_RecordAndUpdate(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(t.TempDir(), clock.NewFake(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	if err := idx.RecordInbound(ctx, "msg-1", "web", "alice", "chat-1", "hello"); err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	rec, ok, err := idx.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected a row for msg-1")
	}
	if rec.Status != StatusQueued {
		t.Errorf("expected initial status %q, got %q", StatusQueued, rec.Status)
	}

	if err := idx.UpdateStatus(ctx, "msg-1", StatusDone, "task-1", "hi there", ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	rec, ok, err = idx.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if !ok {
		t.Fatal("expected a row for msg-1 after update")
	}
	if rec.Status != StatusDone || rec.Reply != "hi there" || rec.TaskID != "task-1" {
		t.Errorf("unexpected record after update: %+v", rec)
	}
}

func TestIndex_RecordInboundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	if err := idx.RecordInbound(ctx, "msg-1", "web", "alice", "chat-1", "hello"); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := idx.UpdateStatus(ctx, "msg-1", StatusDone, "task-1", "reply", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A re-submit of the same message_id must not clobber the prior outcome.
	if err := idx.RecordInbound(ctx, "msg-1", "web", "alice", "chat-1", "hello"); err != nil {
		t.Fatalf("second record: %v", err)
	}

	rec, ok, err := idx.Get(ctx, "msg-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Status != StatusDone {
		t.Errorf("expected prior status to survive a re-submit, got %q", rec.Status)
	}
}

func TestIndex_GetMissing(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	_, ok, err := idx.Get(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unrecorded message_id")
	}
}
