// Package cognition implements the Dual-Cognition Engine: a no-LLM
// complexity classifier gating three processing paths (fast/standard/deep).
// The standard and deep paths combine a Present-analysis call, a
// Memory-recall call, and a Merge call into one cognitive-context block
// injected ahead of the user's message; the fast path makes none of these
// calls and returns a fixed merge.
package cognition

import (
	"strings"
)

// Complexity is the no-LLM classifier's verdict.
type Complexity string

const (
	ComplexityFast     Complexity = "fast"
	ComplexityStandard Complexity = "standard"
	ComplexityDeep     Complexity = "deep"
)

// defaultGreetingSet is the small frozen greeting/acknowledgement set gating
// the fast path; a non-empty greetingSet passed to Classify (the gateway's
// config.SystemConfig.GreetingSet) replaces it.
var defaultGreetingSet = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"ok": true, "okay": true, "thanks": true, "thank you": true,
	"cool": true, "nice": true, "sure": true, "yes": true, "no": true,
	"k": true, "np": true, "yep": true, "nope": true,
}

var contradictionMarkers = []string{
	"but", "however", "actually", "didn't", "never", "that's not", "i don't think", "you're wrong",
}
var emotionalMarkers = []string{
	"help", "stuck", "frustrated", "can't", "failed", "stressed", "scared", "angry", "depressed", "crying",
}
var ambiguityMarkers = []string{
	"that thing", "what we", "you know", "remember when",
}

// Classify implements spec.md §4.7's complexity classifier.
func Classify(text string, greetingSet []string, priorMessageCount int) Complexity {
	trimmed := strings.TrimSpace(strings.ToLower(text))

	greetings := defaultGreetingSet
	if len(greetingSet) > 0 {
		greetings = make(map[string]bool, len(greetingSet))
		for _, g := range greetingSet {
			greetings[strings.ToLower(g)] = true
		}
	}

	wordCount := len(strings.Fields(trimmed))
	hasQuestionOrBang := strings.ContainsAny(trimmed, "?!")

	if greetings[trimmed] || (wordCount <= 3 && !hasQuestionOrBang) {
		return ComplexityFast
	}

	signals := 0
	if wordCount > 60 {
		signals++
	}
	if sentenceCount(trimmed) >= 3 {
		signals++
	}
	if containsAny(trimmed, contradictionMarkers) {
		signals++
	}
	if containsAny(trimmed, emotionalMarkers) {
		signals++
	}
	if containsAny(trimmed, ambiguityMarkers) {
		signals++
	}
	if priorMessageCount > 5 {
		signals++
	}

	if signals >= 2 {
		return ComplexityDeep
	}
	return ComplexityStandard
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func sentenceCount(text string) int {
	count := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	if count == 0 && text != "" {
		count = 1
	}
	return count
}
