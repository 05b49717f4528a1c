package cognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/genesis-labs/convo-gateway/pkg/llm"
)

// PresentAnalysis is the Present-analysis LLM call's strict JSON contract
// (spec.md §4.7).
type PresentAnalysis struct {
	Sentiment             string   `json:"sentiment"`
	Intent                string   `json:"intent"`
	Claims                []string `json:"claims"`
	EmotionalState         string   `json:"emotional_state"`
	Topics                 []string `json:"topics"`
	ConversationalPattern string   `json:"conversational_pattern"`
}

// defaultPresentAnalysis is the graceful-degradation fallback per spec.md
// §4.7's error policy (calm / neutral / ...).
func defaultPresentAnalysis() PresentAnalysis {
	return PresentAnalysis{
		Sentiment:              "neutral",
		Intent:                 "statement",
		EmotionalState:         "calm",
		ConversationalPattern:  "single_turn",
	}
}

const presentPrompt = `Analyze the user's latest message in context. Respond with ONLY a strict JSON object, no prose, no markdown fences:

{
  "sentiment": "positive|negative|neutral",
  "intent": "question|statement|request|venting|bragging|deflecting",
  "claims": ["..."],
  "emotional_state": "calm|excited|defensive|vulnerable|evasive|guilty",
  "topics": ["..."],
  "conversational_pattern": "single_turn|continuation|topic_shift|callback|escalation"
}

RECENT HISTORY:
%s

CURRENT MESSAGE:
%s`

// runPresentAnalysis prompts client with up to the last 3 history messages
// plus text, parsing the result defensively and degrading to defaults on
// any failure.
func runPresentAnalysis(ctx context.Context, client llm.LLMClient, history []llm.Message, text string) PresentAnalysis {
	if client == nil {
		return defaultPresentAnalysis()
	}

	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var hb strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&hb, "%s: %s\n", m.Role, m.GetTextContent())
	}

	prompt := fmt.Sprintf(presentPrompt, hb.String(), text)

	reply, err := llm.Complete(ctx, client, []llm.Message{llm.NewUserMessage(prompt)})
	if err != nil {
		return defaultPresentAnalysis()
	}

	var out PresentAnalysis
	if err := extractJSON(reply, &out); err != nil {
		return defaultPresentAnalysis()
	}
	if out.Sentiment == "" {
		out.Sentiment = "neutral"
	}
	if out.EmotionalState == "" {
		out.EmotionalState = "calm"
	}
	if out.ConversationalPattern == "" {
		out.ConversationalPattern = "single_turn"
	}
	return out
}
