package memory

import (
	"context"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/embed"
	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/vectorstore"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	workspace := t.TempDir()

	kg, err := graph.Open(workspace)
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { kg.Close() })

	vectors, err := vectorstore.Open(workspace, embed.NewFake(8))
	if err != nil {
		t.Fatalf("open vectorstore: %v", err)
	}

	e, err := Open(workspace, vectors, kg, nil, nil, nil, clock.NewFake(time.Unix(1700000000, 0)), Config{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_AddMemoryAndStats(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	resp, err := e.AddMemory(ctx, "Alice moved to Paris last year", "life_event")
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}
	if resp.Status != "ok" || resp.ID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FactCount != 1 || stats.VectorCount != 1 {
		t.Fatalf("expected 1 fact and 1 vector, got %+v", stats)
	}
}

func TestEngine_ReconcileOrphanFacts(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	resp, err := e.AddMemory(ctx, "Bob graduated college in 2019", "life_event")
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}

	// Simulate the vector write having been rolled back out from under a
	// committed fact row (Open Question #1's partial-write scenario).
	if err := e.vectors.Delete(ctx, resp.ID); err != nil {
		t.Fatalf("delete vector point: %v", err)
	}

	removed, err := e.ReconcileOrphanFacts(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 orphan fact removed, got %d", removed)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FactCount != 0 {
		t.Fatalf("expected orphan fact row to be gone, got fact count %d", stats.FactCount)
	}
}

func TestEngine_ScoreImportanceHeuristic(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	base := e.ScoreImportance(ctx, "The weather is mild today and nothing much happened")
	if base != 5 {
		t.Errorf("expected neutral baseline score of 5, got %d", base)
	}

	emotional := e.ScoreImportance(ctx, "I am so heartbroken and afraid about what happened")
	if emotional <= base {
		t.Errorf("expected emotional vocabulary to raise the score above baseline, got %d vs base %d", emotional, base)
	}

	short := e.ScoreImportance(ctx, "ok fine")
	if short >= base {
		t.Errorf("expected short statements to score below baseline, got %d vs base %d", short, base)
	}

	maxed := e.ScoreImportance(ctx, "I got married and graduated and was promoted and diagnosed and heartbroken and excited and proud and grateful")
	if maxed != 10 {
		t.Errorf("expected score to clamp at 10, got %d", maxed)
	}
}

func TestEngine_QueryDegradesOnVectorSearchFailure(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	fake := embed.NewFake(8)

	kg, err := graph.Open(workspace)
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { kg.Close() })

	vectors, err := vectorstore.Open(workspace, fake)
	if err != nil {
		t.Fatalf("open vectorstore: %v", err)
	}

	e, err := Open(workspace, vectors, kg, nil, nil, nil, clock.NewFake(time.Unix(1700000000, 0)), Config{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	if _, err := e.AddMemory(ctx, "Alice moved to Paris last year", "life_event"); err != nil {
		t.Fatalf("add memory: %v", err)
	}

	fake.FailErr = context.DeadlineExceeded

	resp, err := e.Query(ctx, "where did alice move", 5, false)
	if err != nil {
		t.Fatalf("expected Query to degrade gracefully rather than return an error, got %v", err)
	}
	if resp.Tier != TierError {
		t.Fatalf("expected tier=%q on a retrieval failure, got %q", TierError, resp.Tier)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected empty results on a retrieval failure, got %d", len(resp.Results))
	}
}

func TestClassifyTemporal(t *testing.T) {
	cases := []struct {
		text string
		want Routing
	}{
		{"what was my job back then", RoutingHistorical},
		{"I graduated in 2015", RoutingHistorical},
		{"what is my current job now", RoutingCurrent},
		{"I like pizza", RoutingDefault},
	}
	for _, c := range cases {
		if got := classifyTemporal(c.text); got != c.want {
			t.Errorf("classifyTemporal(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}
