// Package memory implements the hybrid Memory Engine: vector search plus
// knowledge-graph context, temporal and importance scoring, a fast-gate
// short-circuit, and a reranker fallback, grounded on
// Qefaraki-picoclaw/pkg/memory's vectorstore+relations combination
// (vectorstore.go, relations.go) generalized into the single query/write
// contract spec.md §4.6 describes.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
	"github.com/genesis-labs/convo-gateway/pkg/utils"
	"github.com/genesis-labs/convo-gateway/pkg/vectorstore"
)

// Tier labels how a Query result was produced.
type Tier string

const (
	TierFastGate Tier = "fast_gate"
	TierRerank   Tier = "reranked"
	// TierError marks a Query that degraded to empty results after a
	// retrieval backend failure, rather than failing the caller's turn.
	TierError Tier = "error"
)

// Routing is the informational temporal classification of a query.
type Routing string

const (
	RoutingHistorical Routing = "Historical"
	RoutingCurrent    Routing = "Current State"
	RoutingDefault    Routing = "Default (Hybrid)"
)

// Result is one item returned by Query.
type Result struct {
	ID            string
	Text          string
	Category      string
	Importance    int
	UnixTimestamp int64
	CombinedScore float64
}

// QueryResponse is the full Query contract response.
type QueryResponse struct {
	Results      []Result
	Tier         Tier
	Entities     []string
	GraphContext string
	Routing      Routing
}

// AddMemoryResponse is the add_memory contract response.
type AddMemoryResponse struct {
	Status string
	ID     string
}

// Engine is the hybrid Memory Engine combining the vector store, knowledge
// graph, and fact relational store.
type Engine struct {
	vectors    *vectorstore.Store
	graph      *graph.Graph
	facts      *factStore
	extractor  EntityExtractor
	reranker   Reranker
	scorer     llm.LLMClient
	clock      clock.Clock
	backupPath string

	writeRetries  int
	writeBaseWait time.Duration
}

// Config controls Engine construction.
type Config struct {
	WriteRetries    int
	WriteBaseWaitMs int
}

// Open wires an Engine over the given vector store, knowledge graph, and
// workspace directory (for the fact store and the append-only backup log).
func Open(workspace string, vectors *vectorstore.Store, kg *graph.Graph, extractor EntityExtractor, reranker Reranker, scorer llm.LLMClient, c clock.Clock, cfg Config) (*Engine, error) {
	if extractor == nil {
		extractor = NewHeuristicExtractor()
	}
	if c == nil {
		c = clock.Real{}
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 5
	}
	if cfg.WriteBaseWaitMs <= 0 {
		cfg.WriteBaseWaitMs = 100
	}

	facts, err := openFactStore(workspace)
	if err != nil {
		return nil, err
	}

	backupDir := filepath.Join(workspace, "_archived_memories")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		facts.close()
		return nil, fmt.Errorf("memory: create backup dir: %w", err)
	}

	return &Engine{
		vectors:       vectors,
		graph:         kg,
		facts:         facts,
		extractor:     extractor,
		reranker:      reranker,
		scorer:        scorer,
		clock:         c,
		backupPath:    filepath.Join(backupDir, "persistent_log.jsonl"),
		writeRetries:  cfg.WriteRetries,
		writeBaseWait: time.Duration(cfg.WriteBaseWaitMs) * time.Millisecond,
	}, nil
}

// Close releases owned store handles.
func (e *Engine) Close() error {
	return e.facts.close()
}

// DB exposes the underlying fact-store handle for maintenance operations
// (VACUUM) that have no dedicated Engine method.
func (e *Engine) DB() *sql.DB {
	return e.facts.db
}

// Stats is a snapshot of memory occupancy, reported by the health endpoint.
type Stats struct {
	FactCount   int
	VectorCount int
}

// Stats reports the current fact-row and vector-point counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	n, err := e.facts.count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{FactCount: n, VectorCount: e.vectors.Count()}, nil
}

// ReconcileOrphanFacts deletes fact rows with no matching vector point,
// the maintenance-loop companion to AddMemory's per-store write-retry
// loop: if the vector write fails after the SQL row commits (Open Question
// #1), the fact row is left behind until the next tick finds and drops it.
func (e *Engine) ReconcileOrphanFacts(ctx context.Context) (int, error) {
	ids, err := e.facts.allIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		exists, err := e.vectors.Exists(ctx, id)
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}
		if err := e.facts.deleteOrphan(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Query runs the hybrid retrieval algorithm described in spec.md §4.6.
func (e *Engine) Query(ctx context.Context, text string, limit int, withGraph bool) (QueryResponse, error) {
	if limit <= 0 {
		limit = 5
	}

	entities := e.extractor.Extract(text)

	var graphCtx strings.Builder
	if withGraph && len(entities) > 0 {
		for _, ent := range entities {
			neighborhood, err := e.graph.GetEntityNeighborhood(ctx, ent, 1)
			if err != nil {
				continue
			}
			graphCtx.WriteString(neighborhood)
		}
	}

	routing := classifyTemporal(text)

	candidates, err := e.vectors.Search(ctx, text, 3*limit)
	if err != nil {
		slog.Error("memory: vector search failed, degrading to empty results", "error", err)
		return QueryResponse{
			Tier:         TierError,
			Entities:     entities,
			GraphContext: graphCtx.String(),
			Routing:      routing,
		}, nil
	}

	now := e.clock.Now()
	scored := make([]Result, len(candidates))
	for i, c := range candidates {
		scored[i] = Result{
			ID:            c.ID,
			Text:          c.Text,
			Category:      c.Category,
			Importance:    c.Importance,
			UnixTimestamp: c.UnixTimestamp,
			CombinedScore: combinedScore(float64(c.Similarity), c.UnixTimestamp, c.Importance, now),
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].CombinedScore > scored[j].CombinedScore })

	fastGate := filterFastGate(scored, entities)
	if len(fastGate) >= limit {
		return QueryResponse{
			Results:      fastGate[:limit],
			Tier:         TierFastGate,
			Entities:     entities,
			GraphContext: graphCtx.String(),
			Routing:      routing,
		}, nil
	}

	reranked := scored
	if e.reranker != nil {
		rerankCandidates := make([]vectorstore.Candidate, len(scored))
		for i, r := range scored {
			rerankCandidates[i] = vectorstore.Candidate{
				Point: vectorstore.Point{
					ID: r.ID, Text: r.Text, Category: r.Category,
					UnixTimestamp: r.UnixTimestamp, Importance: r.Importance,
				},
			}
		}
		out, err := e.reranker.Rerank(ctx, text, rerankCandidates)
		if err == nil {
			reranked = mergeRerankOrder(scored, out)
		}
	}

	if len(reranked) > limit {
		reranked = reranked[:limit]
	}

	return QueryResponse{
		Results:      reranked,
		Tier:         TierRerank,
		Entities:     entities,
		GraphContext: graphCtx.String(),
		Routing:      routing,
	}, nil
}

// mergeRerankOrder reorders scored results to match the order of rerank
// output (matched by ID), falling back to the original position for any ID
// the reranker dropped.
func mergeRerankOrder(scored []Result, reranked []vectorstore.Candidate) []Result {
	byID := make(map[string]Result, len(scored))
	for _, r := range scored {
		byID[r.ID] = r
	}

	out := make([]Result, 0, len(scored))
	seen := make(map[string]bool, len(scored))
	for _, c := range reranked {
		if r, ok := byID[c.ID]; ok {
			out = append(out, r)
			seen[c.ID] = true
		}
	}
	for _, r := range scored {
		if !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// classifyTemporal labels text Historical, Current State, or Default per
// spec.md §4.6 step 3.
func classifyTemporal(text string) Routing {
	lower := strings.ToLower(text)

	historical := []string{"was", "did", "history", "back then", "past"}
	current := []string{"current", "now", "latest", "today"}

	for _, w := range historical {
		if strings.Contains(lower, w) {
			return RoutingHistorical
		}
	}
	if containsYear(lower) {
		return RoutingHistorical
	}
	for _, w := range current {
		if strings.Contains(lower, w) {
			return RoutingCurrent
		}
	}
	return RoutingDefault
}

func containsYear(text string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('0' <= r && r <= '9')
	})
	for _, f := range fields {
		if len(f) == 4 {
			if y, err := strconv.Atoi(f); err == nil && y >= 1900 && y <= 2100 {
				return true
			}
		}
	}
	return false
}

// combinedScore implements combined_score = 0.4*similarity + 0.3*temporal +
// 0.3*(importance/10), with temporal_score = 1/(1+ln(1+age_days)) and a
// floor of 0.5 when there is no timestamp.
func combinedScore(similarity float64, unixTimestamp int64, importance int, now time.Time) float64 {
	temporal := 0.5
	if unixTimestamp > 0 {
		ageDays := now.Sub(time.Unix(unixTimestamp, 0)).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		temporal = 1 / (1 + math.Log(1+ageDays))
	}
	return 0.4*similarity + 0.3*temporal + 0.3*(float64(importance)/10)
}

// filterFastGate keeps candidates whose combined score exceeds 0.80. When
// entities were extracted, a candidate must also contain at least one of
// them as a case-insensitive substring; with no extracted entities every
// candidate above the threshold is kept.
func filterFastGate(scored []Result, entities []string) []Result {
	var out []Result
	for _, r := range scored {
		if r.CombinedScore <= 0.80 {
			continue
		}
		if len(entities) == 0 {
			out = append(out, r)
			continue
		}
		lower := strings.ToLower(r.Text)
		for _, ent := range entities {
			if strings.Contains(lower, strings.ToLower(ent)) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// AddMemory appends content to the backup log, inserts a fact row, and
// writes a matching vector point, scoring importance along the way.
// Writes retry with exponential backoff on store lock contention per
// spec.md §4.6.
func (e *Engine) AddMemory(ctx context.Context, content, category string) (AddMemoryResponse, error) {
	id := utils.GenerateID()
	importance := e.ScoreImportance(ctx, content)
	now := e.clock.Now()

	if err := e.appendBackup(backupEntry{ID: id, Content: content, Category: category, Timestamp: now.UTC().Format(time.RFC3339)}); err != nil {
		return AddMemoryResponse{}, err
	}

	entities := e.extractor.Extract(content)
	entity := ""
	if len(entities) > 0 {
		entity = entities[0]
	}

	fact := Fact{ID: id, Entity: entity, Content: content, Category: category, CreatedAt: now}
	if err := e.retryWrite(ctx, func() error { return e.facts.insert(ctx, fact) }); err != nil {
		return AddMemoryResponse{}, err
	}

	point := vectorstore.Point{
		ID: id, Text: content, Entity: entity, Category: category,
		UnixTimestamp: now.Unix(), Importance: importance,
	}
	if err := e.retryWrite(ctx, func() error { return e.vectors.Upsert(ctx, point) }); err != nil {
		return AddMemoryResponse{Status: "partial", ID: id}, err
	}

	return AddMemoryResponse{Status: "ok", ID: id}, nil
}

func (e *Engine) retryWrite(ctx context.Context, op func() error) error {
	var err error
	wait := e.writeBaseWait
	for attempt := 0; attempt < e.writeRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("memory: write failed after %d attempts: %w", e.writeRetries, err)
}

type backupEntry struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
}

func (e *Engine) appendBackup(entry backupEntry) error {
	data, err := jsoniter.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory: marshal backup entry: %w", err)
	}

	f, err := os.OpenFile(e.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("memory: open backup log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("memory: append backup log: %w", err)
	}
	return nil
}

// emotionalVocabulary and lifeEventVocabulary each add 2 points to the
// importance heuristic per spec.md §4.6.
var emotionalVocabulary = []string{
	"love", "hate", "afraid", "scared", "excited", "heartbroken", "grateful", "proud",
}
var lifeEventVocabulary = []string{
	"married", "divorced", "born", "died", "graduated", "promoted", "diagnosed", "moved",
}

// ScoreImportance implements the keyword heuristic, optionally refined by
// the configured LLM scorer when the heuristic lands in the grey zone [4,7].
func (e *Engine) ScoreImportance(ctx context.Context, content string) int {
	score := 5
	lower := strings.ToLower(content)

	for _, w := range emotionalVocabulary {
		if strings.Contains(lower, w) {
			score += 2
		}
	}
	for _, w := range lifeEventVocabulary {
		if strings.Contains(lower, w) {
			score += 2
		}
	}
	if len(strings.Fields(content)) < 4 {
		score -= 2
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}

	if score >= 4 && score <= 7 && e.scorer != nil {
		if refined, ok := e.llmScoreImportance(ctx, content); ok {
			return refined
		}
	}
	return score
}

func (e *Engine) llmScoreImportance(ctx context.Context, content string) (int, bool) {
	prompt := fmt.Sprintf("Rate the long-term personal importance of this statement from 1 (trivial) to 10 (life-changing). Reply with only the integer.\n\n%s", content)
	reply, err := llm.Complete(ctx, e.scorer, []llm.Message{llm.NewUserMessage(prompt)})
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil || v < 1 || v > 10 {
		return 0, false
	}
	return v, true
}
