package cognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/genesis-labs/convo-gateway/pkg/llm"
)

const searchIntentPrompt = `Extract 1 to 3 focused search query terms that capture what should be recalled from memory to understand this message. Respond with ONLY the terms, comma-separated, nothing else.

MESSAGE:
%s`

// extractSearchIntent is the deep path's first LLM call: a tight prompt
// producing 1-3 focused query terms used to target memory recall.
func extractSearchIntent(ctx context.Context, client llm.LLMClient, text string) string {
	if client == nil {
		return text
	}

	reply, err := llm.Complete(ctx, client, []llm.Message{llm.NewUserMessage(fmt.Sprintf(searchIntentPrompt, text))})
	if err != nil {
		return text
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return text
	}
	return reply
}
