// Package core owns every long-lived component of the gateway and wires
// them together, replacing the teacher's module-level singleton pattern
// (pkg/gateway's package-level registries) with one explicitly constructed
// value holding owned references, per spec.md's "Global mutable state"
// redesign note: nothing here is a package-level var, so multiple Core
// instances (as tests construct) never share state.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/bridge"
	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/cognition"
	"github.com/genesis-labs/convo-gateway/pkg/conflict"
	"github.com/genesis-labs/convo-gateway/pkg/dedup"
	"github.com/genesis-labs/convo-gateway/pkg/embed"
	"github.com/genesis-labs/convo-gateway/pkg/floodgate"
	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/ingress"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
	"github.com/genesis-labs/convo-gateway/pkg/maintenance"
	"github.com/genesis-labs/convo-gateway/pkg/memory"
	"github.com/genesis-labs/convo-gateway/pkg/profile"
	"github.com/genesis-labs/convo-gateway/pkg/sender"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
	"github.com/genesis-labs/convo-gateway/pkg/vectorstore"
	"github.com/genesis-labs/convo-gateway/pkg/worker"
)

// Config collects every tunable needed to construct a Core, mirroring
// config.SystemConfig's gateway-pipeline-tuning fields one-for-one.
type Config struct {
	WorkspaceDir string

	DedupWindow          time.Duration
	FloodGateWindow      time.Duration
	TaskQueueCapacity    int
	TaskHistoryCapacity  int
	WorkerCount          int
	TypingInterval       time.Duration
	SenderTimeout        time.Duration
	SenderChunkSize      int
	SenderChunkDelay     time.Duration
	MaxConflicts         int
	MemoryWriteRetries   int
	MemoryWriteBackoffMs int
	VectorDimension      int
	GreetingSet          []string

	EmbedAPIKey  string
	EmbedBaseURL string
	EmbedModel   string

	SenderCLIPath string
	SenderChannel string

	IngressHost    string
	IngressPort    int
	SharedSecret   string
	CORSOrigins    string
	BridgeToken    string
	DefaultPersona string
	Personas       []string

	SystemPrompt string
}

// Core owns every component instance for one running gateway process.
type Core struct {
	cfg Config

	clock     clock.Clock
	llmClient llm.LLMClient
	embedder  embed.Embedder
	vectors   *vectorstore.Store
	graph     *graph.Graph
	memory    *memory.Engine
	conflicts *conflict.Manager
	cognition *cognition.Engine
	profiles  *profile.Store
	bridgeIdx *bridge.Index

	dedup *dedup.Deduplicator
	gate  *floodgate.Gate
	queue *taskqueue.Queue
	snd   *sender.Sender
	pool  *worker.Pool

	sessions *llm.SessionManager

	srv  *ingress.Server
	mlog *maintenance.Loop
}

// New constructs every component and wires the inbound pipeline's
// callback chain (flood-gate flush → task enqueue), but does not yet start
// any background goroutine; call Run for that.
func New(cfg Config, llmClient llm.LLMClient, c clock.Clock) (*Core, error) {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}

	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	embedder, err := embed.NewClient(cfg.EmbedAPIKey, cfg.EmbedBaseURL, embedModel, cfg.VectorDimension)
	if err != nil {
		return nil, fmt.Errorf("core: init embedder: %w", err)
	}

	vectors, err := vectorstore.Open(cfg.WorkspaceDir, embedder)
	if err != nil {
		return nil, fmt.Errorf("core: open vector store: %w", err)
	}

	kg, err := graph.Open(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("core: open graph: %w", err)
	}

	conflicts, err := conflict.Open(cfg.WorkspaceDir, cfg.MaxConflicts, c)
	if err != nil {
		return nil, fmt.Errorf("core: open conflict manager: %w", err)
	}

	memEngine, err := memory.Open(cfg.WorkspaceDir, vectors, kg, nil, memory.NewLLMReranker(llmClient), llmClient, c, memory.Config{
		WriteRetries:    cfg.MemoryWriteRetries,
		WriteBaseWaitMs: cfg.MemoryWriteBackoffMs,
	})
	if err != nil {
		return nil, fmt.Errorf("core: open memory engine: %w", err)
	}

	profiles, err := profile.Open(cfg.WorkspaceDir, c)
	if err != nil {
		return nil, fmt.Errorf("core: open profile store: %w", err)
	}

	bridgeIdx, err := bridge.Open(cfg.WorkspaceDir, c)
	if err != nil {
		return nil, fmt.Errorf("core: open bridge index: %w", err)
	}

	cogEngine := cognition.New(llmClient, memEngine, kg, cfg.GreetingSet)

	d := dedup.New(cfg.DedupWindow, c)
	q := taskqueue.New(cfg.TaskQueueCapacity, cfg.TaskHistoryCapacity, c)
	snd := sender.New(cfg.SenderCLIPath, cfg.SenderChannel, cfg.SenderTimeout, cfg.SenderChunkSize, cfg.SenderChunkDelay)

	sessions := llm.NewSessionManager(cfg.WorkspaceDir + "/data/sessions")

	co := &Core{
		cfg:       cfg,
		clock:     c,
		llmClient: llmClient,
		embedder:  embedder,
		vectors:   vectors,
		graph:     kg,
		memory:    memEngine,
		conflicts: conflicts,
		cognition: cogEngine,
		profiles:  profiles,
		bridgeIdx: bridgeIdx,
		dedup:     d,
		queue:     q,
		snd:       snd,
		sessions:  sessions,
	}

	co.gate = floodgate.New(cfg.FloodGateWindow, c, co.onFlush)
	co.pool = worker.New(q, snd, co.process, cfg.WorkerCount, cfg.TypingInterval, cfg.SenderTimeout, c)

	co.mlog = maintenance.New(maintenance.DefaultConfig(), q, kg, memEngine, conflicts, kg.DB(), memEngine.DB())

	co.srv = ingress.New(ingress.Config{
		Host:           cfg.IngressHost,
		Port:           cfg.IngressPort,
		SharedSecret:   cfg.SharedSecret,
		CORSOrigins:    cfg.CORSOrigins,
		BridgeToken:    cfg.BridgeToken,
		DefaultPersona: cfg.DefaultPersona,
		Personas:       cfg.Personas,
		Model:          llmClient.Provider(),
	}, co, q, d, co.gate, kg, memEngine, conflicts, snd, cfg.WorkerCount, co.rebuildPersona, c)

	return co, nil
}

// Run starts the worker pool, the maintenance loop, and the HTTP ingress.
// It returns once the ingress listener is bound; background goroutines keep
// running until ctx is cancelled.
func (co *Core) Run(ctx context.Context) error {
	co.pool.Start(ctx)
	go co.mlog.Run(ctx)
	if err := co.srv.Start(); err != nil {
		return fmt.Errorf("core: start ingress: %w", err)
	}
	return nil
}

// Shutdown stops accepting new work, flushes pending flood-gate buffers,
// lets in-flight workers finish, and closes owned store handles.
func (co *Core) Shutdown(ctx context.Context) error {
	if err := co.srv.Stop(ctx); err != nil {
		slog.Error("core: ingress shutdown error", "error", err)
	}
	co.gate.FlushAll()
	co.pool.Wait()

	if err := co.memory.Close(); err != nil {
		slog.Error("core: memory close error", "error", err)
	}
	if err := co.graph.Close(); err != nil {
		slog.Error("core: graph close error", "error", err)
	}
	if err := co.bridgeIdx.Close(); err != nil {
		slog.Error("core: bridge index close error", "error", err)
	}
	return nil
}

// Submit implements ingress.Submitter: it hands the arrival to the
// flood-gate and returns immediately (non-blocking), matching spec.md §5's
// "acknowledge before the worker finishes" backpressure requirement — the
// queue-bounding wait happens later, at flush time, not on the request
// path.
func (co *Core) Submit(ctx context.Context, chatID, text, messageID, senderName string, isGroup, fromMe bool) (bool, string) {
	if err := co.bridgeIdx.RecordInbound(ctx, messageID, co.cfg.SenderChannel, senderName, chatID, text); err != nil {
		slog.Warn("core: failed to record inbound message", "message_id", messageID, "error", err)
	}
	co.gate.Incoming(chatID, text, arrivalMeta{MessageID: messageID, SenderName: senderName, IsGroup: isGroup})
	return true, ""
}

type arrivalMeta struct {
	MessageID  string
	SenderName string
	IsGroup    bool
}

// onFlush is the flood-gate's callback: it builds a Task from the batched
// text and enqueues it, blocking cooperatively (bounded by a generous
// timeout since this already runs off the request path).
func (co *Core) onFlush(chatID, combinedText string, lastMetadata any) {
	meta, _ := lastMetadata.(arrivalMeta)

	t := co.queue.NewTask(chatID, combinedText, meta.MessageID, meta.SenderName, meta.IsGroup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := co.queue.Enqueue(ctx, t); err != nil {
		slog.Error("core: failed to enqueue flushed batch", "chat_id", chatID, "error", err)
	}
}

// rebuildPersona backs POST /persona/rebuild.
func (co *Core) rebuildPersona(ctx context.Context) error {
	_, err := co.profiles.Rebuild(ctx)
	return err
}

// process is the worker pool's Processor: cognition → final LLM call →
// memory write, per spec.md §2's "Worker Pool ... orchestrates cognition →
// memory → LLM → send".
func (co *Core) process(ctx context.Context, t *taskqueue.Task) (string, error) {
	history, err := co.sessions.GetHistory(t.ChatID)
	if err != nil {
		co.markBridgeError(ctx, t, err)
		return "", fmt.Errorf("core: load history for %s: %w", t.ChatID, err)
	}

	prior := history.GetMessages()
	outcome := co.cognition.Process(ctx, t.UserMessage, prior, t.SenderName)

	systemPrompt := co.cfg.SystemPrompt
	if prefix := co.profiles.PromptPrefix(); prefix != "" {
		systemPrompt = prefix + "\n" + systemPrompt
	}
	history.EnsureSystemMessage(systemPrompt)

	messages := append(history.GetMessages(), llm.NewSystemMessage(outcome.ContextBlock), llm.NewUserMessage(t.UserMessage))

	reply, err := llm.Complete(ctx, co.llmClient, messages)
	if err != nil {
		co.markBridgeError(ctx, t, err)
		return "", fmt.Errorf("core: final completion for %s: %w", t.ChatID, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		err := fmt.Errorf("core: empty completion for %s", t.ChatID)
		co.markBridgeError(ctx, t, err)
		return "", err
	}

	history.Add(llm.NewUserMessage(t.UserMessage))
	history.Add(llm.NewAssistantMessage(reply))
	if err := co.sessions.SaveSession(t.ChatID); err != nil {
		slog.Warn("core: failed to persist session", "chat_id", t.ChatID, "error", err)
	}

	if _, err := co.memory.AddMemory(ctx, fmt.Sprintf("%s: %s\nassistant: %s", t.SenderName, t.UserMessage, reply), "conversation"); err != nil {
		slog.Warn("core: failed to write memory", "chat_id", t.ChatID, "error", err)
	}

	if err := co.bridgeIdx.UpdateStatus(ctx, t.MessageID, bridge.StatusDone, t.TaskID, reply, ""); err != nil {
		slog.Warn("core: failed to update bridge index", "message_id", t.MessageID, "error", err)
	}

	return reply, nil
}

// markBridgeError attaches a failure outcome to the bridge index row for
// the task's originating message, best-effort.
func (co *Core) markBridgeError(ctx context.Context, t *taskqueue.Task, cause error) {
	if err := co.bridgeIdx.UpdateStatus(ctx, t.MessageID, bridge.StatusError, t.TaskID, "", cause.Error()); err != nil {
		slog.Warn("core: failed to update bridge index on error", "message_id", t.MessageID, "error", err)
	}
}
