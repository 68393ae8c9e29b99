// Package chromem implements memory.VectorStore on chromem-go, a pure
// Go embedded vector database. Collections map 1:1 onto the memory
// tiers; documents carry their embedding explicitly so the store never
// calls out to an embedding API on its own.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/google/uuid"

	"github.com/cheshire-cat-ai/gocat/core"
	"github.com/cheshire-cat-ai/gocat/memory"
)

// Config configures the store.
type Config struct {
	// Path is the on-disk location of the database. Empty means a
	// purely in-memory store (tests, throwaway sessions).
	Path string

	// Embedder converts upserted texts to vectors. Required.
	Embedder memory.Embedder
}

// Store wraps a chromem DB behind the memory.VectorStore contract.
type Store struct {
	db       *chromem.DB
	embedder memory.Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New opens (or creates) a chromem store.
func New(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("chromem store requires an embedder")
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent db: %w", err)
		}
	}

	return &Store{
		db:          db,
		embedder:    cfg.Embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	// No custom embedding func: documents always arrive with their
	// embedding attached.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Query runs a similarity search on a collection. Results below the
// threshold are dropped; the rest come back best first.
func (s *Store) Query(ctx context.Context, collection string, cfg memory.RecallConfig) ([]core.MemoryHit, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	k := cfg.K
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, cfg.Embedding, k, cfg.Metadata, nil)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", collection, err)
	}

	hits := make([]core.MemoryHit, 0, len(results))
	for _, res := range results {
		if res.Similarity < cfg.Threshold {
			continue
		}
		hits = append(hits, core.MemoryHit{
			Content:  res.Content,
			Metadata: res.Metadata,
			Score:    res.Similarity,
			Distance: 1 - res.Similarity,
			ID:       res.ID,
		})
	}
	return hits, nil
}

// Upsert embeds and stores texts with their metadata, returning the
// new point ids in input order.
func (s *Store) Upsert(ctx context.Context, collection string, texts []string, metadatas []map[string]string) ([]string, error) {
	if len(texts) != len(metadatas) {
		return nil, fmt.Errorf("upsert: %d texts but %d metadatas", len(texts), len(metadatas))
	}

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		embedding, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return ids, fmt.Errorf("embed text for %q: %w", collection, err)
		}

		id := uuid.New().String()
		doc := chromem.Document{
			ID:        id,
			Content:   text,
			Embedding: embedding,
			Metadata:  metadatas[i],
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return ids, fmt.Errorf("add document to %q: %w", collection, err)
		}
		ids = append(ids, id)
	}

	log.Printf("[CHROMEM] Upserted %d points into %q", len(ids), collection)
	return ids, nil
}

// Delete removes the given points in a single batch.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from %q: %w", collection, err)
	}

	log.Printf("[CHROMEM] Deleted %d points from %q", len(ids), collection)
	return nil
}

// ListAll returns every point of a collection. chromem has no scan
// API, so this runs a full-size query against a fixed probe vector;
// similarity scores are meaningless here and discarded.
func (s *Store) ListAll(ctx context.Context, collection string) ([]core.MemoryRecord, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	probe := make([]float32, s.embedder.Dimensions())
	probe[0] = 1

	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", collection, err)
	}

	records := make([]core.MemoryRecord, 0, len(results))
	for _, res := range results {
		records = append(records, core.MemoryRecord{
			ID:       res.ID,
			Content:  res.Content,
			Metadata: res.Metadata,
		})
	}
	return records, nil
}

// Close releases resources. chromem persists on write, so there is
// nothing to flush.
func (s *Store) Close() error {
	return nil
}
