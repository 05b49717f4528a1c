package core

import (
	"context"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/bridge"
	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
)

// fakeLLM is a deterministic, network-free llm.LLMClient for tests: it
// echoes back a fixed reply as a single final StreamChunk.
type fakeLLM struct {
	reply string
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{
		ContentBlocks: []llm.ContentBlock{llm.NewTextBlock(f.reply)},
		IsFinal:       true,
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) IsTransientError(err error) bool { return false }
func (f *fakeLLM) Provider() string                { return "fake" }

func newTestCore(t *testing.T, reply string) *Core {
	t.Helper()
	cfg := Config{
		WorkspaceDir:        t.TempDir(),
		DedupWindow:         time.Minute,
		FloodGateWindow:     50 * time.Millisecond,
		TaskQueueCapacity:   4,
		TaskHistoryCapacity: 4,
		WorkerCount:         1,
		SenderTimeout:       time.Second,
		EmbedAPIKey:         "test-key",
		EmbedBaseURL:        "http://127.0.0.1:1", // unreachable: keeps AddMemory's embed call from hitting the network
		VectorDimension:     8,
		IngressHost:         "127.0.0.1",
		IngressPort:         0,
		SystemPrompt:        "you are a test assistant",
	}
	co, err := New(cfg, &fakeLLM{reply: reply}, clock.NewFake(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(func() {
		if err := co.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return co
}

func TestCore_ProcessFastPathRecordsBridgeSuccess(t *testing.T) {
	co := newTestCore(t, "hello there")
	ctx := context.Background()

	if err := co.bridgeIdx.RecordInbound(ctx, "m1", "web", "alice", "chat-1", "hi"); err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	task := co.queue.NewTask("chat-1", "hi", "m1", "alice", false)
	reply, err := co.process(ctx, task)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	rec, ok, err := co.bridgeIdx.Get(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("bridge get: ok=%v err=%v", ok, err)
	}
	if rec.Status != bridge.StatusDone || rec.Reply != "hello there" {
		t.Fatalf("expected bridge index to record the completed reply, got %+v", rec)
	}
}

func TestCore_ProcessRecordsBridgeErrorOnEmptyReply(t *testing.T) {
	co := newTestCore(t, "")
	ctx := context.Background()

	if err := co.bridgeIdx.RecordInbound(ctx, "m2", "web", "alice", "chat-2", "hi"); err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	task := co.queue.NewTask("chat-2", "hi", "m2", "alice", false)
	if _, err := co.process(ctx, task); err == nil {
		t.Fatal("expected an error for an empty completion")
	}

	rec, ok, err := co.bridgeIdx.Get(ctx, "m2")
	if err != nil || !ok {
		t.Fatalf("bridge get: ok=%v err=%v", ok, err)
	}
	if rec.Status != bridge.StatusError {
		t.Fatalf("expected bridge index to record an error status, got %q", rec.Status)
	}
}

func TestCore_SubmitIsNonBlocking(t *testing.T) {
	co := newTestCore(t, "ack")
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		ok, reason := co.Submit(ctx, "chat-3", "hi", "m3", "alice", false, false)
		if !ok {
			t.Errorf("expected Submit to accept the message, got reason %q", reason)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit should return immediately without waiting on the pipeline")
	}
}
