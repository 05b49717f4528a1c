package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func TestQueue_EnqueueDequeueFIFO(t *testing.T) {
	q := New(2, 10, clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	first := q.NewTask("chat-1", "hi", "m1", "alice", false)
	second := q.NewTask("chat-1", "there", "m2", "alice", false)

	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if q.Stats().Pending != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Stats().Pending)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.TaskID != first.TaskID {
		t.Fatal("expected FIFO order, got second task first")
	}
	if got.Status != StatusProcessing {
		t.Fatalf("expected StatusProcessing after dequeue, got %s", got.Status)
	}
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := New(1, 10, clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	t1 := q.NewTask("chat-1", "a", "m1", "alice", false)
	if err := q.Enqueue(ctx, t1); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	t2 := q.NewTask("chat-1", "b", "m2", "alice", false)
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	if err := q.Enqueue(blockedCtx, t2); err == nil {
		t.Fatal("expected enqueue into a full queue to block until timeout")
	}
}

func TestQueue_SettleMovesToHistory(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	q := New(2, 1, fake)
	ctx := context.Background()

	task := q.NewTask("chat-1", "hi", "m1", "alice", false)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dequeued, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	fake.Advance(5 * time.Second)
	q.Complete(dequeued, "reply")

	if _, ok := q.Active(dequeued.TaskID); ok {
		t.Fatal("settled task should no longer be active")
	}

	history := q.History()
	if len(history) != 1 || history[0].Status != StatusCompleted {
		t.Fatalf("expected one completed task in history, got %+v", history)
	}
	if history[0].ProcessingTimeMs != 5000 {
		t.Fatalf("expected processing time of 5000ms, got %d", history[0].ProcessingTimeMs)
	}
}

func TestQueue_HistoryBoundedByCapacity(t *testing.T) {
	q := New(5, 2, clock.NewFake(time.Unix(0, 0)))

	for i := 0; i < 3; i++ {
		task := q.NewTask("chat-1", "hi", "m", "alice", false)
		q.Complete(task, "ok")
	}

	if len(q.History()) != 2 {
		t.Fatalf("expected history trimmed to capacity 2, got %d", len(q.History()))
	}
}
