package cognition

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// thinkTagRe strips <think>...</think> reasoning blocks some models emit,
// grounded on Qefaraki-picoclaw/pkg/memory/extractor.go's identical pattern.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// extractJSON defensively isolates a JSON object from a raw LLM reply: it
// strips a thinking block, trims markdown code fences, then locates the
// outermost {...} span and unmarshals it into dst.
func extractJSON(raw string, dst any) error {
	text := thinkTagRe.ReplaceAllString(strings.TrimSpace(raw), "")

	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return errNoJSONObject
	}

	return jsoniter.Unmarshal([]byte(text[start:end+1]), dst)
}

var errNoJSONObject = jsonParseError("cognition: no JSON object found in reply")

type jsonParseError string

func (e jsonParseError) Error() string { return string(e) }
