// Package graph implements the persistent knowledge graph: a directed
// multigraph of (subject, relation, object, weight, evidence) triples.
// Grounded on Qefaraki-picoclaw/pkg/memory/relations.go for the
// add/query/format contract, re-platformed per SPEC_FULL.md onto
// modernc.org/sqlite (as teradata-labs-loom's sqlitedriver does) rather
// than a JSONL file, per spec.md's cyclic-graph note: "implement as a
// relational store with (source, target, relation) composite key and
// adjacency indices; avoid in-memory object graphs with back-references."
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Node is a Knowledge-Graph Node: (name, type, properties, created_at, updated_at).
type Node struct {
	Name       string
	Type       string
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Edge is a Knowledge-Graph Edge: (source, target, relation, weight, evidence, created_at).
type Edge struct {
	Source    string
	Target    string
	Relation  string
	Weight    float64
	Evidence  string
	CreatedAt time.Time
}

// Graph is a persistent directed multigraph backed by SQLite.
type Graph struct {
	db *sql.DB
}

// Open opens (or creates) the knowledge-graph database at
// <workspace>/db/knowledge_graph.db, creating its schema on first boot.
func Open(workspace string) (*Graph, error) {
	dir := filepath.Join(workspace, "db")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("graph: create dir: %w", err)
	}

	path := filepath.Join(dir, "knowledge_graph.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer per connection pool

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: set pragmas: %w", err)
	}

	g := &Graph{db: db}
	if err := g.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *Graph) migrate() error {
	_, err := g.db.Exec(`
CREATE TABLE IF NOT EXISTS nodes (
	name        TEXT PRIMARY KEY,
	type        TEXT NOT NULL DEFAULT '',
	properties  TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	source      TEXT NOT NULL,
	target      TEXT NOT NULL,
	relation    TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	evidence    TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	PRIMARY KEY (source, target, relation),
	FOREIGN KEY (source) REFERENCES nodes(name),
	FOREIGN KEY (target) REFERENCES nodes(name)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
`)
	if err != nil {
		return fmt.Errorf("graph: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (g *Graph) Close() error {
	return g.db.Close()
}

// DB exposes the underlying handle for maintenance operations (VACUUM) that
// have no dedicated Graph method.
func (g *Graph) DB() *sql.DB {
	return g.db
}

// HasNode reports whether name exists as a node.
func (g *Graph) HasNode(ctx context.Context, name string) (bool, error) {
	var exists int
	err := g.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE name = ?`, name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("graph: has_node %s: %w", name, err)
	}
	return true, nil
}

// AddNode upserts a node; on an existing node it replaces the type and the
// whole properties blob with the given ones.
func (g *Graph) AddNode(ctx context.Context, name, typ string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("graph: marshal properties for %s: %w", name, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = g.db.ExecContext(ctx, `
INSERT INTO nodes (name, type, properties, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	type = excluded.type,
	properties = excluded.properties,
	updated_at = excluded.updated_at
`, name, typ, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("graph: add_node %s: %w", name, err)
	}
	return nil
}

// AddEdge upserts the (source, target, relation) triple. Repeated upserts
// of the same triple are idempotent with respect to topology: weight is
// overwritten and evidence is appended with a " | " separator.
func (g *Graph) AddEdge(ctx context.Context, source, target, relation string, weight float64, evidence string) error {
	okSrc, err := g.HasNode(ctx, source)
	if err != nil {
		return err
	}
	if !okSrc {
		return fmt.Errorf("graph: add_edge: source node %q does not exist", source)
	}
	okTgt, err := g.HasNode(ctx, target)
	if err != nil {
		return err
	}
	if !okTgt {
		return fmt.Errorf("graph: add_edge: target node %q does not exist", target)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var existing string
	err = g.db.QueryRowContext(ctx, `SELECT evidence FROM edges WHERE source = ? AND target = ? AND relation = ?`,
		source, target, relation).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = g.db.ExecContext(ctx, `
INSERT INTO edges (source, target, relation, weight, evidence, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, source, target, relation, weight, evidence, now)
		if err != nil {
			return fmt.Errorf("graph: add_edge %s-%s->%s: %w", source, relation, target, err)
		}
	case err != nil:
		return fmt.Errorf("graph: add_edge lookup %s-%s->%s: %w", source, relation, target, err)
	default:
		combined := evidence
		if existing != "" && evidence != "" {
			combined = existing + " | " + evidence
		} else if existing != "" {
			combined = existing
		}
		_, err = g.db.ExecContext(ctx, `
UPDATE edges SET weight = ?, evidence = ? WHERE source = ? AND target = ? AND relation = ?
`, weight, combined, source, target, relation)
		if err != nil {
			return fmt.Errorf("graph: add_edge update %s-%s->%s: %w", source, relation, target, err)
		}
	}
	return nil
}

// Neighbors returns every edge incident to node, in either direction.
func (g *Graph) Neighbors(ctx context.Context, node string) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx, `
SELECT source, target, relation, weight, evidence, created_at FROM edges
WHERE source = ? OR target = ?
ORDER BY created_at
`, node, node)
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors %s: %w", node, err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var e Edge
		var createdAt string
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Weight, &e.Evidence, &createdAt); err != nil {
			return nil, fmt.Errorf("graph: scan edge: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntityNeighborhood fetches the hop-neighborhood of entity (1-hop for
// hops=1; each additional hop expands the frontier by the prior hop's
// neighbor set) and renders it for prompt injection as a
// "Knowledge about {entity}:" header followed by at most 20
// "  {source} --[{relation}]--> {target} (w={weight})" lines, highest weight
// first. Returns "" when the entity has no edges.
func (g *Graph) GetEntityNeighborhood(ctx context.Context, entity string, hops int) (string, error) {
	if hops < 1 {
		hops = 1
	}

	frontier := map[string]bool{entity: true}
	seenEdges := map[string]Edge{}

	for h := 0; h < hops; h++ {
		next := map[string]bool{}
		for node := range frontier {
			edges, err := g.Neighbors(ctx, node)
			if err != nil {
				return "", err
			}
			for _, e := range edges {
				key := e.Source + "|" + e.Relation + "|" + e.Target
				seenEdges[key] = e
				next[e.Source] = true
				next[e.Target] = true
			}
		}
		frontier = next
	}

	if len(seenEdges) == 0 {
		return "", nil
	}

	edges := make([]Edge, 0, len(seenEdges))
	for _, e := range seenEdges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	if len(edges) > 20 {
		edges = edges[:20]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Knowledge about %s:\n", entity)
	for _, e := range edges {
		fmt.Fprintf(&sb, "  %s --[%s]--> %s (w=%.2f)\n", e.Source, e.Relation, e.Target, e.Weight)
	}
	return sb.String(), nil
}

// FindConnectionPath runs a breadth-first search for a path of relations
// from start to end, at most maxDepth hops, returning the edges traversed
// in order. Returns nil if no path is found within the depth bound.
func (g *Graph) FindConnectionPath(ctx context.Context, start, end string, maxDepth int) ([]Edge, error) {
	if start == end {
		return nil, nil
	}
	if maxDepth < 1 {
		maxDepth = 1
	}

	type frame struct {
		node string
		path []Edge
	}

	visited := map[string]bool{start: true}
	queue := []frame{{node: start}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) >= maxDepth {
			continue
		}

		edges, err := g.Neighbors(ctx, cur.node)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			next := e.Target
			if next == cur.node {
				next = e.Source
			}
			if visited[next] {
				continue
			}
			path := append(append([]Edge{}, cur.path...), e)
			if next == end {
				return path, nil
			}
			visited[next] = true
			queue = append(queue, frame{node: next, path: path})
		}
	}
	return nil, nil
}

// Stats is a snapshot of graph occupancy, reported by the health endpoint.
type Stats struct {
	NodeCount int
	EdgeCount int
}

// Stats reports the current node and edge counts.
func (g *Graph) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&s.NodeCount); err != nil {
		return s, fmt.Errorf("graph: stats nodes: %w", err)
	}
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&s.EdgeCount); err != nil {
		return s, fmt.Errorf("graph: stats edges: %w", err)
	}
	return s, nil
}

// PruneGraph removes edges whose weight is below minWeight, then removes
// every node that has no remaining edge (including nodes that never had
// one). Invoked by the
// maintenance loop on an idle trigger, not on the request path.
func (g *Graph) PruneGraph(ctx context.Context, minWeight float64) (edgesRemoved int, nodesRemoved int, err error) {
	res, err := g.db.ExecContext(ctx, `DELETE FROM edges WHERE weight < ?`, minWeight)
	if err != nil {
		return 0, 0, fmt.Errorf("graph: prune edges: %w", err)
	}
	n, _ := res.RowsAffected()
	edgesRemoved = int(n)

	res, err = g.db.ExecContext(ctx, `
DELETE FROM nodes WHERE name NOT IN (
	SELECT source FROM edges
	UNION
	SELECT target FROM edges
)`)
	if err != nil {
		return edgesRemoved, 0, fmt.Errorf("graph: prune nodes: %w", err)
	}
	n, _ = res.RowsAffected()
	nodesRemoved = int(n)

	return edgesRemoved, nodesRemoved, nil
}
