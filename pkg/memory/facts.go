package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Fact is (id, entity, content, category, source_doc_id, created_at);
// always paired with a vector of the declared dimension in the vector store.
type Fact struct {
	ID          string
	Entity      string
	Content     string
	Category    string
	SourceDocID string
	CreatedAt   time.Time
}

// factStore is the relational side of the Memory database
// (<workspace>/db/memory.db), grounded on pkg/graph's modernc.org/sqlite
// registration and schema-on-first-boot pattern.
type factStore struct {
	db *sql.DB
}

func openFactStore(workspace string) (*factStore, error) {
	dir := filepath.Join(workspace, "db")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}

	path := filepath.Join(dir, "memory.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	fs := &factStore{db: db}
	if err := fs.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *factStore) migrate() error {
	_, err := fs.db.Exec(`
CREATE TABLE IF NOT EXISTS facts (
	id             TEXT PRIMARY KEY,
	entity         TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	source_doc_id  TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_entity ON facts(entity);
`)
	if err != nil {
		return fmt.Errorf("memory: migrate facts: %w", err)
	}
	return nil
}

func (fs *factStore) insert(ctx context.Context, f Fact) error {
	_, err := fs.db.ExecContext(ctx, `
INSERT INTO facts (id, entity, content, category, source_doc_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, f.ID, f.Entity, f.Content, f.Category, f.SourceDocID, f.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("memory: insert fact %s: %w", f.ID, err)
	}
	return nil
}

func (fs *factStore) get(ctx context.Context, id string) (*Fact, error) {
	var f Fact
	var createdAt string
	err := fs.db.QueryRowContext(ctx, `SELECT id, entity, content, category, source_doc_id, created_at FROM facts WHERE id = ?`, id).
		Scan(&f.ID, &f.Entity, &f.Content, &f.Category, &f.SourceDocID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get fact %s: %w", id, err)
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

// deleteOrphan removes a fact row by ID (used by the maintenance
// reconciliation sweep when no matching vector point exists).
func (fs *factStore) deleteOrphan(ctx context.Context, id string) error {
	_, err := fs.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete orphan fact %s: %w", id, err)
	}
	return nil
}

// allIDs returns every fact ID currently stored, for reconciliation sweeps.
func (fs *factStore) allIDs(ctx context.Context) ([]string, error) {
	rows, err := fs.db.QueryContext(ctx, `SELECT id FROM facts`)
	if err != nil {
		return nil, fmt.Errorf("memory: list fact ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (fs *factStore) count(ctx context.Context) (int, error) {
	var n int
	if err := fs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: count facts: %w", err)
	}
	return n, nil
}

func (fs *factStore) close() error {
	return fs.db.Close()
}
