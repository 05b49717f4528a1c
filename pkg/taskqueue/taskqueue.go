// Package taskqueue implements the bounded FIFO of MessageTask with its
// status lifecycle, grounded on the teacher's channel-based buffering idiom
// (pkg/gateway's internal channel buffer sizing) generalized into an
// explicit queue type with a bounded, FIFO-trimmed history.
package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/google/uuid"
)

// Status is one point in a MessageTask's terminal-state lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// Task is the queue's owned unit of work.
type Task struct {
	TaskID             string
	ChatID             string
	UserMessage        string
	MessageID          string
	SenderName         string
	IsGroup            bool
	Status             Status
	Generation         int64
	CreatedAt          time.Time
	ProcessingStarted  time.Time
	ProcessingFinished time.Time
	Response           string
	Error              string
	ProcessingTimeMs   int64
}

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Pending int
}

// Queue is a bounded FIFO of Task with a bounded, FIFO-trimmed history of
// terminal tasks. Enqueue blocks cooperatively while the queue is full.
type Queue struct {
	mu          sync.Mutex
	notEmpty    chan struct{}
	items       []*Task
	active      map[string]*Task
	history     []*Task
	capacity    int
	historyCap  int
	clock       clock.Clock
}

// New builds a Queue bounded at capacity pending items and historyCap
// retained terminal tasks.
func New(capacity, historyCap int, c clock.Clock) *Queue {
	if c == nil {
		c = clock.Real{}
	}
	return &Queue{
		notEmpty:   make(chan struct{}, 1),
		active:     make(map[string]*Task),
		capacity:   capacity,
		historyCap: historyCap,
		clock:      c,
	}
}

// NewTask constructs a Task in the StatusQueued state with a fresh ID.
func (q *Queue) NewTask(chatID, userMessage, messageID, senderName string, isGroup bool) *Task {
	return &Task{
		TaskID:      uuid.NewString(),
		ChatID:      chatID,
		UserMessage: userMessage,
		MessageID:   messageID,
		SenderName:  senderName,
		IsGroup:     isGroup,
		Status:      StatusQueued,
		CreatedAt:   q.clock.Now(),
	}
}

// Enqueue appends t to the queue, blocking cooperatively until there is
// room or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	for {
		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, t)
			q.active[t.TaskID] = t
			q.mu.Unlock()
			q.signal()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notEmpty:
			// a dequeue may have freed capacity; loop and recheck
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest queued task, blocking until one is
// available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			t.Status = StatusProcessing
			t.ProcessingStarted = q.clock.Now()
			q.mu.Unlock()
			q.signal()
			return t, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// Complete marks t completed with response, moving it to history.
func (q *Queue) Complete(t *Task, response string) {
	q.settle(t, StatusCompleted, response, "")
}

// Fail marks t failed with errMsg, moving it to history.
func (q *Queue) Fail(t *Task, errMsg string) {
	q.settle(t, StatusFailed, "", errMsg)
}

// Supersede marks t superseded silently, moving it to history.
func (q *Queue) Supersede(t *Task) {
	q.settle(t, StatusSuperseded, "", "")
}

func (q *Queue) settle(t *Task, status Status, response, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	t.Status = status
	t.Response = response
	t.Error = errMsg
	t.ProcessingFinished = now
	if !t.ProcessingStarted.IsZero() {
		t.ProcessingTimeMs = now.Sub(t.ProcessingStarted).Milliseconds()
	}

	delete(q.active, t.TaskID)

	q.history = append(q.history, t)
	if len(q.history) > q.historyCap {
		q.history = q.history[len(q.history)-q.historyCap:]
	}
}

// Stats reports current pending occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.items)}
}

// History returns a snapshot copy of retained terminal tasks, oldest first.
func (q *Queue) History() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, len(q.history))
	copy(out, q.history)
	return out
}

// Active returns the task currently tracked under id, if any (queued or
// processing).
func (q *Queue) Active(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.active[id]
	return t, ok
}
