// Package worker implements the fixed-size pool that drains the task queue
// and orchestrates per-task processing, grounded on the teacher's
// pkg/gateway goroutine-per-channel dispatch idiom generalized into a
// dequeue-process-send-settle loop with per-chat generation supersession.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
)

// Processor runs the Dual-Cognition + Memory + LLM pipeline for a task and
// returns the reply text to send.
type Processor func(ctx context.Context, t *taskqueue.Task) (reply string, err error)

// Sender is the subset of pkg/sender.Sender the pool needs.
type Sender interface {
	SendText(ctx context.Context, target, text, quoteID string) bool
	SendTyping(ctx context.Context, target string)
	SendSeen(ctx context.Context, target, messageID string)
	SendLongMessage(ctx context.Context, target, text string) bool
}

// Queue is the subset of pkg/taskqueue.Queue the pool needs.
type Queue interface {
	Dequeue(ctx context.Context) (*taskqueue.Task, error)
	Complete(t *taskqueue.Task, response string)
	Fail(t *taskqueue.Task, errMsg string)
	Supersede(t *taskqueue.Task)
}

// Pool drains Queue with N concurrent workers, maintaining a per-chat
// monotonic generation counter so that a superseded reply is suppressed.
type Pool struct {
	queue       Queue
	sender      Sender
	process     Processor
	n           int
	typingEvery time.Duration
	sendTimeout time.Duration
	apologyText string
	clock       clock.Clock

	genMu sync.Mutex
	gen   map[string]int64

	wg sync.WaitGroup
}

// New builds a Pool with n workers. typingEvery is the typing-heartbeat
// interval (default 4s per the protocol); sendTimeout bounds each outbound
// send call.
func New(q Queue, s Sender, process Processor, n int, typingEvery, sendTimeout time.Duration, c clock.Clock) *Pool {
	if n <= 0 {
		n = 2
	}
	if typingEvery <= 0 {
		typingEvery = 4 * time.Second
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Pool{
		queue:       q,
		sender:      s,
		process:     process,
		n:           n,
		typingEvery: typingEvery,
		sendTimeout: sendTimeout,
		apologyText: "Sorry, something went wrong processing that. Please try again.",
		clock:       c,
		gen:         make(map[string]int64),
	}
}

// Start spawns the worker goroutines. Start returns immediately; workers run
// until ctx is cancelled. Call Wait to block until all have exited.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Wait blocks until every worker goroutine has exited (after ctx is done and
// the queue has been drained or the grace deadline in the caller expires).
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		t, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("task processing panicked", "worker", id, "task_id", t.TaskID, "chat_id", t.ChatID, "panic", r)
					p.queue.Fail(t, fmt.Sprintf("panic while processing task %s: %v", t.TaskID, r))
				}
			}()
			p.handle(ctx, t)
		}()
	}
}

// nextGeneration assigns the next generation number for chatID under the
// per-chat lock and returns it alongside the task.
func (p *Pool) nextGeneration(chatID string) int64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	p.gen[chatID]++
	return p.gen[chatID]
}

// currentGeneration reads chatID's counter without mutating it.
func (p *Pool) currentGeneration(chatID string) int64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return p.gen[chatID]
}

func (p *Pool) handle(ctx context.Context, t *taskqueue.Task) {
	t.Generation = p.nextGeneration(t.ChatID)

	if t.MessageID != "" {
		go p.sender.SendSeen(ctx, t.ChatID, t.MessageID)
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go p.typingHeartbeat(typingCtx, t.ChatID)

	reply, procErr := p.process(ctx, t)

	stopTyping()

	if t.Generation != p.currentGeneration(t.ChatID) {
		p.queue.Supersede(t)
		return
	}

	if procErr != nil {
		slog.Error("task processing failed", "task_id", t.TaskID, "chat_id", t.ChatID, "error", procErr)
		p.sendApology(ctx, t)
		p.queue.Fail(t, procErr.Error())
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	ok := p.sender.SendLongMessage(sendCtx, t.ChatID, reply)
	cancel()

	if !ok {
		slog.Error("sender failed delivering reply", "task_id", t.TaskID, "chat_id", t.ChatID)
		p.sendApology(ctx, t)
		p.queue.Fail(t, fmt.Sprintf("sender failed delivering reply for task %s", t.TaskID))
		return
	}
	p.queue.Complete(t, reply)
}

func (p *Pool) sendApology(ctx context.Context, t *taskqueue.Task) {
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	p.sender.SendText(sendCtx, t.ChatID, p.apologyText, "")
}

// typingHeartbeat re-emits a typing signal every typingEvery until ctx is
// cancelled (by the caller, once Process returns).
func (p *Pool) typingHeartbeat(ctx context.Context, target string) {
	ticker := time.NewTicker(p.typingEvery)
	defer ticker.Stop()

	p.sender.SendTyping(ctx, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sender.SendTyping(ctx, target)
		}
	}
}
