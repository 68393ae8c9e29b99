package memory

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/cheshire-cat-ai/gocat/core"
)

// Long-term memory collection names, in fixed tier order.
const (
	CollectionEpisodic    = "episodic"
	CollectionDeclarative = "declarative"
	CollectionProcedural  = "procedural"
)

// Collections lists the tier collections in recall order. The order is
// load-bearing: recall writes results back in this order and the
// per-tier hooks are zipped against it.
var Collections = [3]string{CollectionEpisodic, CollectionDeclarative, CollectionProcedural}

// RecallConfig is one tier's retrieval parameters for one request.
// Hooks receive and may return a modified copy; replacing Embedding
// means that tier searches with a different vector (and pays for the
// extra embedding itself, if it made one).
type RecallConfig struct {
	Embedding []float32
	K         int
	Threshold float32

	// Metadata restricts matches to points whose metadata contains
	// these pairs. Nil means no filter.
	Metadata map[string]string
}

// VectorStore is the long-term storage capability the recall engine
// and the tool synchronizer consume. Implementations own similarity
// math and persistence; collections are addressed by name.
type VectorStore interface {
	// Query runs a similarity search on a collection, returning up to
	// cfg.K hits at or above cfg.Threshold, best first.
	Query(ctx context.Context, collection string, cfg RecallConfig) ([]core.MemoryHit, error)

	// Upsert embeds and stores texts with their metadata, returning the
	// new point ids in input order.
	Upsert(ctx context.Context, collection string, texts []string, metadatas []map[string]string) ([]string, error)

	// Delete removes the given points in one batch.
	Delete(ctx context.Context, collection string, ids []string) error

	// ListAll returns every point of a collection.
	ListAll(ctx context.Context, collection string) ([]core.MemoryRecord, error)

	// Close releases storage resources.
	Close() error
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HookRunner is the slice of the plugin registry the recall engine
// needs: run the handlers registered under a name, in priority order,
// threading the payload through each.
type HookRunner interface {
	Execute(ctx context.Context, name string, payload any, wm *WorkingMemory) (any, error)
}

// IncompatibilityError marks a vector-store query failure, typically a
// dimension or schema mismatch after an embedder swap. The pipeline
// turns it into an actionable error response instead of a generic
// failure.
type IncompatibilityError struct {
	Collection string
	Err        error
}

func (e *IncompatibilityError) Error() string {
	return fmt.Sprintf("vector memory %q is not compatible with the current embedder: %v", e.Collection, e.Err)
}

func (e *IncompatibilityError) Unwrap() error { return e.Err }

// RecallEngine retrieves context from the three memory tiers into a
// working memory.
type RecallEngine struct {
	vectors  VectorStore
	embedder Embedder
	hooks    HookRunner

	defaultK         int
	defaultThreshold float32

	// Query embeddings are cached so a repeated recall query does not
	// pay for a second embedding call.
	cache *ristretto.Cache
}

// RecallOptions tunes the engine's default per-tier parameters.
// Zero values fall back to k=3, threshold=0.7.
type RecallOptions struct {
	K         int
	Threshold float32
}

// NewRecallEngine creates a recall engine over the given store,
// embedder and hook registry.
func NewRecallEngine(vectors VectorStore, embedder Embedder, hooks HookRunner, opts RecallOptions) (*RecallEngine, error) {
	if opts.K <= 0 {
		opts.K = 3
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.7
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1e7,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &RecallEngine{
		vectors:          vectors,
		embedder:         embedder,
		hooks:            hooks,
		defaultK:         opts.K,
		defaultThreshold: opts.Threshold,
		cache:            cache,
	}, nil
}

// Recall fills wm's three recall slots from the vector collections.
//
// The user's current message is the base query. The query text, the
// query vector, and each tier's parameters are all hook-customizable;
// the query is embedded exactly once and the vector reused across
// tiers unless a tier hook swaps it out. Tier queries run concurrently
// but results are written back in fixed tier order.
func (r *RecallEngine) Recall(ctx context.Context, wm *WorkingMemory) error {
	query := wm.CurrentMessage.Text

	out, err := r.hooks.Execute(ctx, core.HookRecallQuery, query, wm)
	if err != nil {
		return err
	}
	query, ok := out.(string)
	if !ok {
		return fmt.Errorf("%s returned %T, want string", core.HookRecallQuery, out)
	}
	log.Printf("[MEMORY] Recall query: %q", truncateLog(query, 80))
	wm.RecallQuery = query

	embedding, err := r.embedQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("embed recall query: %w", err)
	}
	wm.RecallEmbedding = embedding

	if _, err := r.hooks.Execute(ctx, core.HookBeforeRecallsMemories, nil, wm); err != nil {
		return err
	}

	configs := [3]RecallConfig{
		{
			Embedding: embedding,
			K:         r.defaultK,
			Threshold: r.defaultThreshold,
			Metadata:  map[string]string{"source": wm.UserID},
		},
		{Embedding: embedding, K: r.defaultK, Threshold: r.defaultThreshold},
		{Embedding: embedding, K: r.defaultK, Threshold: r.defaultThreshold},
	}

	tierHooks := [3]string{
		core.HookBeforeRecallsEpisodic,
		core.HookBeforeRecallsDeclarative,
		core.HookBeforeRecallsProcedural,
	}
	for i, name := range tierHooks {
		out, err := r.hooks.Execute(ctx, name, configs[i], wm)
		if err != nil {
			return err
		}
		cfg, ok := out.(RecallConfig)
		if !ok {
			return fmt.Errorf("%s returned %T, want memory.RecallConfig", name, out)
		}
		configs[i] = cfg
	}

	// The tiers have no ordering dependency on each other; query them
	// concurrently and write back in tier order.
	var (
		wg   sync.WaitGroup
		hits [3][]core.MemoryHit
		errs [3]error
	)
	for i, collection := range Collections {
		wg.Add(1)
		go func(i int, collection string) {
			defer wg.Done()
			hits[i], errs[i] = r.vectors.Query(ctx, collection, configs[i])
		}(i, collection)
	}
	wg.Wait()

	for i, collection := range Collections {
		if errs[i] != nil {
			return &IncompatibilityError{Collection: collection, Err: errs[i]}
		}
	}

	wm.EpisodicMemories = hits[0]
	wm.DeclarativeMemories = hits[1]
	wm.ProceduralMemories = hits[2]
	log.Printf("[MEMORY] Recalled %d episodic, %d declarative, %d procedural",
		len(hits[0]), len(hits[1]), len(hits[2]))

	if _, err := r.hooks.Execute(ctx, core.HookAfterRecallsMemories, nil, wm); err != nil {
		return err
	}
	return nil
}

// embedQuery embeds the query text, consulting the cache first.
func (r *RecallEngine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := r.cache.Get(query); ok {
		if emb, ok := v.([]float32); ok {
			return emb, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	r.cache.Set(query, embedding, int64(4*len(embedding)))
	return embedding, nil
}

// Close releases the engine's cache.
func (r *RecallEngine) Close() {
	r.cache.Close()
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
