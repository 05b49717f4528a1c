package cognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/genesis-labs/convo-gateway/pkg/llm"
)

// Merge is the Merge LLM call's strict JSON contract (spec.md §4.7).
type Merge struct {
	Thought           string   `json:"thought"`
	TensionLevel      float64  `json:"tension_level"`
	TensionType       string   `json:"tension_type"`
	Contradictions    []string `json:"contradictions"`
	ResponseStrategy  string   `json:"response_strategy"`
	SuggestedTone     string   `json:"suggested_tone"`
	InnerMonologue    string   `json:"inner_monologue"`
}

// defaultMerge is the graceful-degradation fallback (spec.md §4.7).
func defaultMerge() Merge {
	return Merge{
		TensionLevel:     0,
		TensionType:      "none",
		ResponseStrategy: "acknowledge",
		SuggestedTone:    "warm",
		InnerMonologue:   "Nothing notable; responding normally.",
	}
}

// fastMerge is the fast-path shortcut result: no LLM or memory call.
func fastMerge() Merge {
	return Merge{
		TensionLevel:   0,
		TensionType:    "none",
		InnerMonologue: "Simple message",
	}
}

const mergePrompt = `You are the internal reasoning layer behind an AI assistant. Combine the present-moment analysis and recalled memory context into a single strict JSON object, no prose, no markdown fences:

{
  "thought": "chain-of-thought, populate only if instructed below",
  "tension_level": 0.0,
  "tension_type": "none|mild_inconsistency|pattern_break|direct_contradiction|growth",
  "contradictions": ["..."],
  "response_strategy": "acknowledge|challenge|support|redirect|quiz|celebrate",
  "suggested_tone": "warm|playful|concerned|firm|proud|teasing",
  "inner_monologue": "..."
}

%s

PRESENT ANALYSIS:
%s

MEMORY CONTEXT:
%s`

// runMerge prompts client with a summary of present and memory context. When
// deep is true, the prompt explicitly instructs chain-of-thought and expects
// "thought" to be populated.
func runMerge(ctx context.Context, client llm.LLMClient, present PresentAnalysis, memoryContext string, deep bool) Merge {
	if client == nil {
		return defaultMerge()
	}

	instruction := "Populate \"thought\" with an empty string; keep reasoning internal."
	if deep {
		instruction = "This is a deep-reasoning turn: populate \"thought\" with an explicit chain-of-thought explaining your read on the situation before settling on a strategy."
	}

	presentSummary := fmt.Sprintf(
		"sentiment=%s intent=%s emotional_state=%s pattern=%s claims=%s topics=%s",
		present.Sentiment, present.Intent, present.EmotionalState, present.ConversationalPattern,
		strings.Join(present.Claims, "; "), strings.Join(present.Topics, "; "),
	)

	prompt := fmt.Sprintf(mergePrompt, instruction, presentSummary, memoryContext)

	reply, err := llm.Complete(ctx, client, []llm.Message{llm.NewUserMessage(prompt)})
	if err != nil {
		return defaultMerge()
	}

	var out Merge
	if err := extractJSON(reply, &out); err != nil {
		return defaultMerge()
	}
	if out.TensionType == "" {
		out.TensionType = "none"
	}
	if out.ResponseStrategy == "" {
		out.ResponseStrategy = "acknowledge"
	}
	if out.SuggestedTone == "" {
		out.SuggestedTone = "warm"
	}
	if out.TensionLevel < 0 {
		out.TensionLevel = 0
	}
	if out.TensionLevel > 1 {
		out.TensionLevel = 1
	}
	return out
}
