// Package ingress implements the HTTP entry point for the gateway: webhook
// delivery, persona-scoped chat, health/status introspection, and the two
// maintenance-adjacent admin endpoints, grounded on
// pkg/channels/web/web_channel.go's http.NewServeMux + http.Server
// construction style and jsoniter JSON handling convention.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/conflict"
	"github.com/genesis-labs/convo-gateway/pkg/dedup"
	"github.com/genesis-labs/convo-gateway/pkg/floodgate"
	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/memory"
	"github.com/genesis-labs/convo-gateway/pkg/sender"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config controls server construction.
type Config struct {
	Host           string
	Port           int
	SharedSecret   string // checked against x-api-key when non-empty
	CORSOrigins    string // comma-separated allow-list, "*" allows all
	BridgeToken    string // gates /whatsapp/loop-test
	DefaultPersona string
	Personas       []string // recognized /chat/<persona> suffixes
	Model          string   // active LLM provider/model, reported by /health
}

// Submitter is the narrow contract the server needs from the inbound
// pipeline to accept a message. The server runs the dedup check itself
// before calling Submit; flood-gate batching and the eventual task enqueue
// happen behind this interface in Core.
type Submitter interface {
	Submit(ctx context.Context, chatID, text, messageID, senderName string, isGroup, fromMe bool) (accepted bool, reason string)
}

// Server is the HTTP ingress. It owns no business logic: it validates,
// authenticates, and reports, delegating real work to the wired components.
type Server struct {
	cfg Config

	submitter Submitter
	queue     *taskqueue.Queue
	dedup     *dedup.Deduplicator
	gate      *floodgate.Gate
	kg        *graph.Graph
	mem       *memory.Engine
	conflicts *conflict.Manager
	snd       *sender.Sender
	clock     clock.Clock

	workerCount int
	rebuildFn   func(ctx context.Context) error

	server *http.Server
}

// New builds a Server. rebuildFn is invoked by /persona/rebuild; it may be
// nil, in which case that endpoint reports 501.
func New(cfg Config, submitter Submitter, q *taskqueue.Queue, d *dedup.Deduplicator, gate *floodgate.Gate,
	kg *graph.Graph, mem *memory.Engine, conflicts *conflict.Manager, snd *sender.Sender, workerCount int,
	rebuildFn func(ctx context.Context) error, c clock.Clock) *Server {
	if c == nil {
		c = clock.Real{}
	}
	return &Server{
		cfg:         cfg,
		submitter:   submitter,
		queue:       q,
		dedup:       d,
		gate:        gate,
		kg:          kg,
		mem:         mem,
		conflicts:   conflicts,
		snd:         snd,
		clock:       c,
		workerCount: workerCount,
		rebuildFn:   rebuildFn,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.withCORS(s.handleChat))
	mux.HandleFunc("/v1/chat/completions", s.withCORS(s.handleOpenAICompat))
	mux.HandleFunc("/chat/", s.withCORS(s.handlePersonaChat))
	mux.HandleFunc("/health", s.withCORS(s.handleHealth))
	mux.HandleFunc("/gateway/status", s.withCORS(s.handleStatus))
	mux.HandleFunc("/persona/rebuild", s.withCORS(s.handleRebuild))
	mux.HandleFunc("/whatsapp/loop-test", s.withCORS(s.handleLoopTest))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: mux}

	slog.Info("ingress listening", "addr", addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingress server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORSOrigins != "" {
			origin := r.Header.Get("Origin")
			for _, allowed := range strings.Split(s.cfg.CORSOrigins, ",") {
				allowed = strings.TrimSpace(allowed)
				if allowed == "*" || (allowed != "" && allowed == origin) {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.SharedSecret == "" {
		return true
	}
	return r.Header.Get("x-api-key") == s.cfg.SharedSecret
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("ingress: failed to encode response", "error", err)
	}
}

// incomingBody is the webhook-style inbound shape: {message, chat_id,
// message_id, sender_name, fromMe?}.
type incomingBody struct {
	Message    string `json:"message"`
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	IsGroup    bool   `json:"is_group"`
	FromMe     bool   `json:"fromMe"`
}

// openAIMessage/openAIBody cover the /v1/chat/completions compatibility
// shape: only the last user message is extracted for submission.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIBody struct {
	Messages []openAIMessage `json:"messages"`
	User     string          `json:"user"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return
	}

	var body incomingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json"})
		return
	}

	s.accept(w, r.Context(), body.ChatID, body.Message, body.MessageID, body.SenderName, body.IsGroup, body.FromMe)
}

func (s *Server) handleOpenAICompat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return
	}

	var body openAIBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json"})
		return
	}

	var last string
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if body.Messages[i].Role == "user" {
			last = body.Messages[i].Content
			break
		}
	}

	chatID := body.User
	if chatID == "" {
		chatID = "openai-compat"
	}
	s.accept(w, r.Context(), chatID, last, "", "", false, false)
}

func (s *Server) handlePersonaChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return
	}

	persona := strings.TrimPrefix(r.URL.Path, "/chat/")
	if !s.recognizedPersona(persona) {
		persona = s.cfg.DefaultPersona
	}

	var body incomingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json"})
		return
	}

	chatID := body.ChatID
	if persona != "" {
		chatID = persona + ":" + chatID
	}
	s.accept(w, r.Context(), chatID, body.Message, body.MessageID, body.SenderName, body.IsGroup, body.FromMe)
}

func (s *Server) recognizedPersona(name string) bool {
	for _, p := range s.cfg.Personas {
		if p == name {
			return true
		}
	}
	return false
}

// accept runs the inbound shape checks shared by every submission route
// (own-message skip, empty skip, duplicate skip) and enqueues on success.
func (s *Server) accept(w http.ResponseWriter, ctx context.Context, chatID, text, messageID, senderName string, isGroup, fromMe bool) {
	if fromMe {
		writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "reason": "own_message", "accepted": true})
		return
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "reason": "empty", "accepted": true})
		return
	}
	if s.dedup != nil && s.dedup.IsDuplicate(messageID) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "reason": "duplicate", "accepted": true})
		return
	}

	accepted, reason := s.submitter.Submit(ctx, chatID, text, messageID, senderName, isGroup, fromMe)
	if !accepted {
		writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "reason": reason, "accepted": true})
		return
	}

	depth := 0
	if s.queue != nil {
		depth = s.queue.Stats().Pending
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "queued",
		"accepted":         true,
		"task_queue_depth": depth,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]any{
		"status": "ok",
	}
	if s.cfg.Model != "" {
		resp["model"] = s.cfg.Model
	}

	if s.kg != nil {
		if gs, err := s.kg.Stats(ctx); err == nil {
			resp["graph_nodes"] = gs.NodeCount
			resp["graph_edges"] = gs.EdgeCount
		}
	}
	if s.mem != nil {
		if ms, err := s.mem.Stats(ctx); err == nil {
			resp["memory_facts"] = ms.FactCount
			resp["memory_vectors"] = ms.VectorCount
		}
	}
	if s.conflicts != nil {
		resp["pending_conflicts"] = s.conflicts.PendingCount()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var queueStats taskqueue.Stats
	if s.queue != nil {
		queueStats = s.queue.Stats()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":     queueStats,
		"workers":   s.workerCount,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		return
	}
	if s.rebuildFn == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "rebuild not configured"})
		return
	}
	if err := s.rebuildFn(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleLoopTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.cfg.BridgeToken == "" || r.Header.Get("x-bridge-token") != s.cfg.BridgeToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid bridge token"})
		return
	}
	if s.snd == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "sender not configured"})
		return
	}

	var body struct {
		Target string `json:"target"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Target == "" {
		body.Target = "loop-test"
	}

	ok := s.snd.SendDryRun(r.Context(), body.Target, "loop test: dry run")
	writeJSON(w, http.StatusOK, map[string]any{"sent": ok, "dry_run": true})
}
