package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/genesis-labs/convo-gateway/pkg/llm"
	"github.com/genesis-labs/convo-gateway/pkg/vectorstore"
)

// Reranker is the cross-encoder fallback path: given the full candidate set
// and the original query, it returns the candidates reordered by relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]vectorstore.Candidate, error)
}

// llmReranker asks the configured LLMClient to score each candidate's
// relevance to query on a 0-10 scale and sorts by that score, degrading to
// the original combined-score order on any parse failure (matching the
// Dual-Cognition Engine's error policy of graceful degradation rather than
// raising).
type llmReranker struct {
	client llm.LLMClient
}

// NewLLMReranker builds a Reranker backed by client.
func NewLLMReranker(client llm.LLMClient) Reranker {
	return &llmReranker{client: client}
}

type scoredCandidate struct {
	candidate vectorstore.Candidate
	score     float64
}

func (r *llmReranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]vectorstore.Candidate, error) {
	if r.client == nil || len(candidates) == 0 {
		return candidates, nil
	}

	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = scoredCandidate{candidate: c, score: float64(c.Similarity)}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nRate each passage's relevance to the query from 0 to 10. Reply with one integer per line, in order, nothing else.\n\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Text)
	}

	reply, err := llm.Complete(ctx, r.client, []llm.Message{llm.NewUserMessage(sb.String())})
	if err == nil {
		lines := strings.Split(strings.TrimSpace(reply), "\n")
		for i := range scored {
			if i >= len(lines) {
				break
			}
			if v, perr := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64); perr == nil {
				scored[i].score = v
			}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	out := make([]vectorstore.Candidate, len(scored))
	for i, s := range scored {
		out[i] = s.candidate
	}
	return out, nil
}
