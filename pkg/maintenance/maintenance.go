// Package maintenance implements the idle-triggered housekeeping loop:
// knowledge-graph pruning, SQLite VACUUM, conflict-log trimming, and
// orphan-fact reconciliation. It runs orthogonally to the ingress/worker
// request path, grounded on the teacher's pkg/config/watcher.go ticker-loop
// idiom (a goroutine woken by a time.Ticker rather than by request traffic).
package maintenance

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/conflict"
	"github.com/genesis-labs/convo-gateway/pkg/graph"
	"github.com/genesis-labs/convo-gateway/pkg/memory"
	"github.com/genesis-labs/convo-gateway/pkg/taskqueue"
)

// Config controls sweep thresholds.
type Config struct {
	// Interval is how often the loop wakes to check for idleness.
	Interval time.Duration
	// IdleAfter is how long the task queue must have been empty before a
	// sweep runs; avoids pruning/vacuuming while the system is busy.
	IdleAfter time.Duration
	// MinEdgeWeight is the prune threshold passed to graph.PruneGraph.
	MinEdgeWeight float64
	// ResolvedConflictMaxAge bounds how long a resolved conflict is kept.
	ResolvedConflictMaxAge time.Duration
}

// DefaultConfig returns conservative defaults: a 5-minute tick, 2-minute
// idle requirement, prune edges decayed below 0.1, drop resolved conflicts
// after 30 days.
func DefaultConfig() Config {
	return Config{
		Interval:               5 * time.Minute,
		IdleAfter:              2 * time.Minute,
		MinEdgeWeight:          0.1,
		ResolvedConflictMaxAge: 30 * 24 * time.Hour,
	}
}

// Loop is the idle-triggered maintenance loop.
type Loop struct {
	cfg       Config
	queue     *taskqueue.Queue
	kg        *graph.Graph
	mem       *memory.Engine
	conflicts *conflict.Manager
	graphDB   *sql.DB
	memDB     *sql.DB

	lastActivity time.Time
}

// New builds a Loop. graphDB/memDB are the raw database handles used only
// for VACUUM; they may be nil to skip that step (e.g. in tests using a
// fake store).
func New(cfg Config, q *taskqueue.Queue, kg *graph.Graph, mem *memory.Engine, conflicts *conflict.Manager, graphDB, memDB *sql.DB) *Loop {
	return &Loop{
		cfg:       cfg,
		queue:     q,
		kg:        kg,
		mem:       mem,
		conflicts: conflicts,
		graphDB:   graphDB,
		memDB:     memDB,
	}
}

// Run blocks, waking every cfg.Interval to sweep if the queue has been
// empty for at least cfg.IdleAfter. It returns when ctx is cancelled. A
// panic in a single sweep is recovered and logged rather than crashing the
// background goroutine, matching the teacher's no-panic-across-goroutine
// stance.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.lastActivity = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("maintenance: sweep panicked", "recovered", r)
		}
	}()

	if l.queue != nil && l.queue.Stats().Pending > 0 {
		l.lastActivity = time.Now()
		return
	}
	if time.Since(l.lastActivity) < l.cfg.IdleAfter {
		return
	}

	l.sweep(ctx)
	l.lastActivity = time.Now()
}

// sweep runs every housekeeping step best-effort: a failure in one step is
// logged and does not block the others.
func (l *Loop) sweep(ctx context.Context) {
	if l.kg != nil {
		edges, nodes, err := l.kg.PruneGraph(ctx, l.cfg.MinEdgeWeight)
		if err != nil {
			slog.Error("maintenance: graph prune failed", "error", err)
		} else if edges > 0 || nodes > 0 {
			slog.Info("maintenance: pruned graph", "edges_removed", edges, "nodes_removed", nodes)
		}
	}

	if l.mem != nil {
		removed, err := l.mem.ReconcileOrphanFacts(ctx)
		if err != nil {
			slog.Error("maintenance: reconcile orphan facts failed", "error", err)
		} else if removed > 0 {
			slog.Info("maintenance: reconciled orphan facts", "removed", removed)
		}
	}

	if l.conflicts != nil {
		removed, err := l.conflicts.PruneResolved(l.cfg.ResolvedConflictMaxAge)
		if err != nil {
			slog.Error("maintenance: conflict prune failed", "error", err)
		} else if removed > 0 {
			slog.Info("maintenance: pruned resolved conflicts", "removed", removed)
		}
	}

	l.vacuum(ctx, l.graphDB, "knowledge_graph.db")
	l.vacuum(ctx, l.memDB, "memory.db")
}

func (l *Loop) vacuum(ctx context.Context, db *sql.DB, name string) {
	if db == nil {
		return
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		slog.Error("maintenance: vacuum failed", "database", name, "error", err)
		return
	}
	slog.Debug("maintenance: vacuumed", "database", name)
}
