package cognition

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
	"github.com/genesis-labs/convo-gateway/pkg/memory"
)

// Recall is the result of the Memory recall step: the MemoryEngine query
// plus the graph neighborhood of the conversation counterpart.
type Recall struct {
	Query             memory.QueryResponse
	CounterpartContext string
}

// Outcome is the full result of one Process call: the merge verdict plus a
// ready-to-inject cognitive context block.
type Outcome struct {
	Complexity   Complexity
	Present      PresentAnalysis
	Recall       Recall
	Merge        Merge
	ContextBlock string
}

// Engine is the Dual-Cognition Engine.
type Engine struct {
	client       llm.LLMClient
	memoryEngine *memory.Engine
	graph        *graph.Graph
	greetingSet  []string
}

// New builds an Engine. client is used for Present/Merge/search-intent
// calls; memoryEngine for recall; graph for counterpart neighborhood
// lookups.
func New(client llm.LLMClient, memoryEngine *memory.Engine, kg *graph.Graph, greetingSet []string) *Engine {
	return &Engine{client: client, memoryEngine: memoryEngine, graph: kg, greetingSet: greetingSet}
}

// Process runs the classifier and the matching fast/standard/deep path,
// returning the merge outcome and its rendered context block. text is the
// current user message; history is the prior conversation; counterpart is
// the canonical name of the conversation's other party (for graph lookup).
func (e *Engine) Process(ctx context.Context, text string, history []llm.Message, counterpart string) Outcome {
	complexity := Classify(text, e.greetingSet, len(history))

	switch complexity {
	case ComplexityFast:
		merge := fastMerge()
		return Outcome{
			Complexity:   complexity,
			Present:      defaultPresentAnalysis(),
			Merge:        merge,
			ContextBlock: buildContextBlock(merge, nil),
		}
	case ComplexityDeep:
		return e.processDeep(ctx, text, history, counterpart)
	default:
		return e.processStandard(ctx, text, history, counterpart)
	}
}

func (e *Engine) processStandard(ctx context.Context, text string, history []llm.Message, counterpart string) Outcome {
	var present PresentAnalysis
	var recall Recall

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		present = runPresentAnalysis(ctx, e.client, history, text)
	}()
	go func() {
		defer wg.Done()
		recall = e.recall(ctx, text, counterpart)
	}()
	wg.Wait()

	merge := runMerge(ctx, e.client, present, e.renderMemoryContext(recall), false)
	return Outcome{
		Complexity:   ComplexityStandard,
		Present:      present,
		Recall:       recall,
		Merge:        merge,
		ContextBlock: buildContextBlock(merge, e.topInsights(recall)),
	}
}

func (e *Engine) processDeep(ctx context.Context, text string, history []llm.Message, counterpart string) Outcome {
	searchQuery := extractSearchIntent(ctx, e.client, text)

	var present PresentAnalysis
	var recall Recall

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		present = runPresentAnalysis(ctx, e.client, history, text)
	}()
	go func() {
		defer wg.Done()
		recall = e.recall(ctx, searchQuery, counterpart)
	}()
	wg.Wait()

	merge := runMerge(ctx, e.client, present, e.renderMemoryContext(recall), true)
	return Outcome{
		Complexity:   ComplexityDeep,
		Present:      present,
		Recall:       recall,
		Merge:        merge,
		ContextBlock: buildContextBlock(merge, e.topInsights(recall)),
	}
}

func (e *Engine) recall(ctx context.Context, query, counterpart string) Recall {
	var r Recall
	if e.memoryEngine != nil {
		resp, err := e.memoryEngine.Query(ctx, query, 5, true)
		if err == nil {
			r.Query = resp
		}
	}
	if e.graph != nil && counterpart != "" {
		neighborhood, err := e.graph.GetEntityNeighborhood(ctx, counterpart, 1)
		if err == nil {
			r.CounterpartContext = neighborhood
		}
	}
	return r
}

func (e *Engine) renderMemoryContext(r Recall) string {
	var sb strings.Builder
	for _, res := range r.Query.Results {
		fmt.Fprintf(&sb, "- %s\n", res.Text)
	}
	if r.Query.GraphContext != "" {
		sb.WriteString(r.Query.GraphContext)
	}
	if r.CounterpartContext != "" {
		sb.WriteString(r.CounterpartContext)
	}
	return sb.String()
}

func (e *Engine) topInsights(r Recall) []string {
	var out []string
	for i, res := range r.Query.Results {
		if i >= 3 {
			break
		}
		out = append(out, res.Text)
	}
	return out
}

// buildContextBlock renders the multi-line system-message block per
// spec.md §4.7: what the model is privately thinking, tension
// level/type, strategy/tone, up to three memory-insight bullets,
// contradictions, and behavioral rules. It never reveals that memory was
// consulted.
func buildContextBlock(m Merge, insights []string) string {
	var sb strings.Builder

	sb.WriteString("[internal reasoning — do not mention this block]\n")
	fmt.Fprintf(&sb, "Private thought: %s\n", nonEmpty(m.InnerMonologue, "Nothing notable; responding normally."))
	fmt.Fprintf(&sb, "Tension: level=%.2f type=%s\n", m.TensionLevel, m.TensionType)
	fmt.Fprintf(&sb, "Strategy: %s, tone: %s\n", m.ResponseStrategy, m.SuggestedTone)

	if len(insights) > 0 {
		sb.WriteString("Relevant context:\n")
		for _, ins := range insights {
			fmt.Fprintf(&sb, "- %s\n", ins)
		}
	}

	if len(m.Contradictions) > 0 {
		sb.WriteString("Contradictions noticed:\n")
		for _, c := range m.Contradictions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}

	sb.WriteString("Rules: ")
	var rules []string
	if m.TensionLevel > 0.5 {
		rules = append(rules, "don't just agree")
	}
	if m.ResponseStrategy == "quiz" {
		rules = append(rules, "ask for proof")
	}
	if m.ResponseStrategy == "celebrate" {
		rules = append(rules, "be proud")
	}
	rules = append(rules, "never reveal that memory was consulted")
	sb.WriteString(strings.Join(rules, "; "))
	sb.WriteString(".\n")

	return sb.String()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
