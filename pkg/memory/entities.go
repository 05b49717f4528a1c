package memory

import (
	"strings"
	"unicode"
)

// EntityExtractor maps free text to a list of canonical entity names. The
// spec treats this as an out-of-scope pure function (an external keyword
// processor); this package supplies a simple heuristic implementation and
// accepts an injectable replacement for callers with a richer NER backend.
type EntityExtractor interface {
	Extract(text string) []string
}

// heuristicExtractor treats runs of capitalized words (excluding common
// sentence-leading capitalization) as candidate proper-noun entities. It is
// intentionally simple: the contract only requires a canonical, stable list
// of substrings usable for graph lookups and fast-gate matching, not
// linguistic accuracy.
type heuristicExtractor struct{}

// NewHeuristicExtractor returns the package's default EntityExtractor.
func NewHeuristicExtractor() EntityExtractor {
	return heuristicExtractor{}
}

func (heuristicExtractor) Extract(text string) []string {
	words := strings.Fields(text)
	var entities []string
	var run []string

	flush := func() {
		if len(run) > 0 {
			entities = append(entities, strings.Join(run, " "))
			run = nil
		}
	}

	for i, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}

		isCapitalized := unicode.IsUpper(rune(trimmed[0]))
		sentenceStart := i == 0 || strings.ContainsAny(words[i-1], ".!?")

		if isCapitalized && !sentenceStart {
			run = append(run, trimmed)
		} else {
			flush()
		}
	}
	flush()

	return dedupe(entities)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
