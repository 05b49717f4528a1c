// Package vectorstore wraps chromem-go as the approximate-nearest-neighbor
// store for Facts, grounded on Qefaraki-picoclaw/pkg/memory/vectorstore.go's
// single-collection chromem-go wrapper, generalized from its
// conversations/knowledge split into one "facts" collection keyed by the
// Fact ID that pkg/memory owns.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/genesis-labs/convo-gateway/pkg/embed"
)

// Point is a Vector-Store Point: (id, vector, payload).
type Point struct {
	ID            string
	Text          string
	Entity        string
	Category      string
	UnixTimestamp int64
	Importance    int
}

// Candidate is a search result: a Point plus its similarity score.
type Candidate struct {
	Point
	Similarity float32
}

// Store is the persistent vector store for Facts.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
}

// Open opens (or creates) a persistent chromem-go database under
// <workspace>/db/vectors, backed by embedder for query-time embedding.
func Open(workspace string, embedder embed.Embedder) (*Store, error) {
	dir := filepath.Join(workspace, "db", "vectors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open db: %w", err)
	}

	embeddingFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	coll, err := db.GetOrCreateCollection("facts", nil, embeddingFn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create collection: %w", err)
	}

	return &Store{db: db, collection: coll, dimension: embedder.Dimension()}, nil
}

// Upsert stores or replaces the Point with the given id, embedding its text
// via the store's embedder.
func (s *Store) Upsert(ctx context.Context, p Point) error {
	doc := chromem.Document{
		ID:      p.ID,
		Content: p.Text,
		Metadata: map[string]string{
			"entity":         p.Entity,
			"category":       p.Category,
			"unix_timestamp": strconv.FormatInt(p.UnixTimestamp, 10),
			"importance":     strconv.Itoa(p.Importance),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vectorstore: upsert %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes the Point with the given id, if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.collection.Delete(ctx, nil, nil, id)
}

// Search returns the top n candidates by cosine similarity to query.
func (s *Store) Search(ctx context.Context, query string, n int) ([]Candidate, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		ts, _ := strconv.ParseInt(r.Metadata["unix_timestamp"], 10, 64)
		imp, _ := strconv.Atoi(r.Metadata["importance"])
		out = append(out, Candidate{
			Point: Point{
				ID:            r.ID,
				Text:          r.Content,
				Entity:        r.Metadata["entity"],
				Category:      r.Metadata["category"],
				UnixTimestamp: ts,
				Importance:    imp,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Exists reports whether a point with the given id is currently stored,
// used by the maintenance reconciliation sweep to find orphan fact rows.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Count reports the number of points currently stored.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Dimension reports the fixed vector width declared by the embedder this
// store was opened with.
func (s *Store) Dimension() int {
	return s.dimension
}
