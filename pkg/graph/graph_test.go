package graph

import (
	"context"
	"strings"
	"testing"
)

func openTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGraph_GetEntityNeighborhoodFormat(t *testing.T) {
	ctx := context.Background()
	g := openTestGraph(t)

	if err := g.AddNode(ctx, "alice", "person", nil); err != nil {
		t.Fatalf("add node alice: %v", err)
	}
	if err := g.AddNode(ctx, "acme", "org", nil); err != nil {
		t.Fatalf("add node acme: %v", err)
	}
	if err := g.AddNode(ctx, "bob", "person", nil); err != nil {
		t.Fatalf("add node bob: %v", err)
	}

	if err := g.AddEdge(ctx, "alice", "acme", "works_at", 0.5, "ev1"); err != nil {
		t.Fatalf("add edge 1: %v", err)
	}
	if err := g.AddEdge(ctx, "alice", "bob", "knows", 0.9, "ev2"); err != nil {
		t.Fatalf("add edge 2: %v", err)
	}

	out, err := g.GetEntityNeighborhood(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("get neighborhood: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 edge lines, got %d lines: %q", len(lines), out)
	}
	if lines[0] != "Knowledge about alice:" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	// Descending by weight: "knows" (0.9) before "works_at" (0.5).
	if !strings.Contains(lines[1], "--[knows]-->") {
		t.Errorf("expected highest-weight edge first, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], "(w=0.90)") {
		t.Errorf("expected weight formatted to 2 decimals, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "--[works_at]-->") {
		t.Errorf("expected second edge to be works_at, got %q", lines[2])
	}
}

func TestGraph_GetEntityNeighborhoodEmpty(t *testing.T) {
	ctx := context.Background()
	g := openTestGraph(t)

	out, err := g.GetEntityNeighborhood(ctx, "nobody", 1)
	if err != nil {
		t.Fatalf("get neighborhood: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty string for a node with no edges, got %q", out)
	}
}

func TestGraph_Stats(t *testing.T) {
	ctx := context.Background()
	g := openTestGraph(t)

	g.AddNode(ctx, "alice", "person", nil)
	g.AddNode(ctx, "bob", "person", nil)
	g.AddEdge(ctx, "alice", "bob", "knows", 0.9, "ev")

	stats, err := g.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.NodeCount != 2 {
		t.Errorf("expected 2 nodes, got %d", stats.NodeCount)
	}
	if stats.EdgeCount != 1 {
		t.Errorf("expected 1 edge, got %d", stats.EdgeCount)
	}
}

func TestGraph_OpenSetsPragmas(t *testing.T) {
	g := openTestGraph(t)

	var mode string
	if err := g.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("expected journal_mode=WAL, got %q", mode)
	}

	var fk int
	if err := g.db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=ON, got %d", fk)
	}
}

func TestGraph_AddEdgeRejectsMissingNodesUnderForeignKeys(t *testing.T) {
	ctx := context.Background()
	g := openTestGraph(t)

	if err := g.AddEdge(ctx, "ghost", "also-ghost", "knows", 1.0, ""); err == nil {
		t.Fatal("expected add_edge to reject an edge between nodes that were never created")
	}
}
