package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
)

type fakeSender struct {
	mu        sync.Mutex
	sentLong  []string
	sentText  []string
	typingFor []string
	longOK    bool
}

func (f *fakeSender) SendText(ctx context.Context, target, text, quoteID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, text)
	return true
}
func (f *fakeSender) SendTyping(ctx context.Context, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingFor = append(f.typingFor, target)
}
func (f *fakeSender) SendSeen(ctx context.Context, target, messageID string) {}
func (f *fakeSender) SendLongMessage(ctx context.Context, target, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentLong = append(f.sentLong, text)
	return f.longOK
}

type fakeQueue struct {
	mu         sync.Mutex
	completed  []*taskqueue.Task
	failed     []*taskqueue.Task
	superseded []*taskqueue.Task
	tasks      chan *taskqueue.Task
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(chan *taskqueue.Task, 4)}
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*taskqueue.Task, error) {
	select {
	case t, ok := <-f.tasks:
		if !ok {
			return nil, errors.New("closed")
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (f *fakeQueue) Complete(t *taskqueue.Task, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, t)
}
func (f *fakeQueue) Fail(t *taskqueue.Task, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, t)
}
func (f *fakeQueue) Supersede(t *taskqueue.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded = append(f.superseded, t)
}

func newTask(chatID string) *taskqueue.Task {
	q := taskqueue.New(4, 4, clock.NewFake(time.Unix(0, 0)))
	return q.NewTask(chatID, "hello", "m1", "alice", false)
}

func TestPool_HandleSuccessCompletes(t *testing.T) {
	q := newFakeQueue()
	snd := &fakeSender{longOK: true}
	p := New(q, snd, func(ctx context.Context, tk *taskqueue.Task) (string, error) {
		return "a reply", nil
	}, 1, time.Hour, time.Second, clock.NewFake(time.Unix(0, 0)))

	task := newTask("chat-1")
	p.handle(context.Background(), task)

	if len(q.completed) != 1 {
		t.Fatalf("expected task to complete, got completed=%d failed=%d superseded=%d", len(q.completed), len(q.failed), len(q.superseded))
	}
	if len(snd.sentLong) != 1 || snd.sentLong[0] != "a reply" {
		t.Fatalf("expected the reply to be sent, got %v", snd.sentLong)
	}
}

func TestPool_HandleProcessErrorSendsApologyAndFails(t *testing.T) {
	q := newFakeQueue()
	snd := &fakeSender{longOK: true}
	p := New(q, snd, func(ctx context.Context, tk *taskqueue.Task) (string, error) {
		return "", errors.New("boom")
	}, 1, time.Hour, time.Second, clock.NewFake(time.Unix(0, 0)))

	task := newTask("chat-1")
	p.handle(context.Background(), task)

	if len(q.failed) != 1 {
		t.Fatalf("expected task to fail, got %d", len(q.failed))
	}
	if len(snd.sentText) != 1 {
		t.Fatalf("expected an apology message to be sent, got %v", snd.sentText)
	}
}

func TestPool_HandleSendFailureFailsTask(t *testing.T) {
	q := newFakeQueue()
	snd := &fakeSender{longOK: false}
	p := New(q, snd, func(ctx context.Context, tk *taskqueue.Task) (string, error) {
		return "a reply", nil
	}, 1, time.Hour, time.Second, clock.NewFake(time.Unix(0, 0)))

	task := newTask("chat-1")
	p.handle(context.Background(), task)

	if len(q.failed) != 1 || len(q.completed) != 0 {
		t.Fatalf("expected a delivery failure to fail the task, got completed=%d failed=%d", len(q.completed), len(q.failed))
	}
	if len(snd.sentText) != 1 {
		t.Fatalf("expected a best-effort apology on delivery failure too, got %v", snd.sentText)
	}
}

func TestPool_HandleSupersededTaskIsNotCompleted(t *testing.T) {
	q := newFakeQueue()
	snd := &fakeSender{longOK: true}
	var p *Pool
	p = New(q, snd, func(ctx context.Context, tk *taskqueue.Task) (string, error) {
		// Simulate a newer arrival for the same chat superseding this task
		// while it is still being processed.
		p.nextGeneration(tk.ChatID)
		return "a reply", nil
	}, 1, time.Hour, time.Second, clock.NewFake(time.Unix(0, 0)))

	task := newTask("chat-1")
	p.handle(context.Background(), task)

	if len(q.superseded) != 1 {
		t.Fatalf("expected the stale generation to be superseded, got completed=%d superseded=%d", len(q.completed), len(q.superseded))
	}
	if len(q.completed) != 0 {
		t.Fatal("a superseded task must not also be completed")
	}
}
