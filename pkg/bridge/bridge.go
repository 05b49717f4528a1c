// Package bridge implements the Bridge Message Index: a small relational
// audit log of every inbound message accepted by the ingress, keyed by the
// channel-assigned message_id. It is separate from the knowledge graph and
// memory databases (spec.md §6 lists it as its own store,
// "whatsapp_bridge.db") and is grounded on pkg/graph.Open's
// modernc.org/sqlite open/migrate idiom, re-platformed for a one-table
// schema instead of a graph.
package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

// Status values recorded against an inbound message as it moves through
// the pipeline.
const (
	StatusQueued = "queued"
	StatusDone   = "done"
	StatusError  = "error"
)

// Record is one row of inbound_messages.
type Record struct {
	MessageID string
	Channel   string
	From      string
	To        string
	Text      string
	Status    string
	TaskID    string
	Reply     string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Index is the bridge message index, backed by its own SQLite database so
// it can be inspected or truncated independently of the graph/memory
// stores.
type Index struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (or creates) <workspace>/whatsapp_bridge.db, creating its
// schema on first boot.
func Open(workspace string, c clock.Clock) (*Index, error) {
	if c == nil {
		c = clock.Real{}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("bridge: create workspace dir: %w", err)
	}

	path := filepath.Join(workspace, "whatsapp_bridge.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bridge: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, clock: c}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`
CREATE TABLE IF NOT EXISTS inbound_messages (
	message_id  TEXT PRIMARY KEY,
	channel     TEXT NOT NULL DEFAULT '',
	from_addr   TEXT NOT NULL DEFAULT '',
	to_addr     TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	task_id     TEXT NOT NULL DEFAULT '',
	reply       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("bridge: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// RecordInbound inserts a new row for a freshly accepted message, or is a
// no-op if the message_id already has a row (messages may be re-submitted
// by flaky transports; the row keeps its original status).
func (idx *Index) RecordInbound(ctx context.Context, messageID, channel, from, to, text string) error {
	if messageID == "" {
		return nil
	}
	now := idx.clock.Now().UTC().Format(time.RFC3339)
	_, err := idx.db.ExecContext(ctx, `
INSERT INTO inbound_messages (message_id, channel, from_addr, to_addr, text, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id) DO NOTHING;`,
		messageID, channel, from, to, text, StatusQueued, now, now)
	if err != nil {
		return fmt.Errorf("bridge: record inbound %s: %w", messageID, err)
	}
	return nil
}

// UpdateStatus attaches the pipeline's outcome (task id, reply text or
// error) to a previously recorded message.
func (idx *Index) UpdateStatus(ctx context.Context, messageID, status, taskID, reply, errMsg string) error {
	if messageID == "" {
		return nil
	}
	now := idx.clock.Now().UTC().Format(time.RFC3339)
	_, err := idx.db.ExecContext(ctx, `
UPDATE inbound_messages
SET status = ?, task_id = ?, reply = ?, error = ?, updated_at = ?
WHERE message_id = ?;`,
		status, taskID, reply, errMsg, now, messageID)
	if err != nil {
		return fmt.Errorf("bridge: update status %s: %w", messageID, err)
	}
	return nil
}

// Get returns the row for a single message_id, or ok=false if it has never
// been recorded.
func (idx *Index) Get(ctx context.Context, messageID string) (Record, bool, error) {
	row := idx.db.QueryRowContext(ctx, `
SELECT message_id, channel, from_addr, to_addr, text, status, task_id, reply, error, created_at, updated_at
FROM inbound_messages WHERE message_id = ?;`, messageID)

	var r Record
	var createdAt, updatedAt string
	if err := row.Scan(&r.MessageID, &r.Channel, &r.From, &r.To, &r.Text, &r.Status, &r.TaskID, &r.Reply, &r.Error, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("bridge: get %s: %w", messageID, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, true, nil
}
