package tools

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cheshire-cat-ai/gocat/memory"
)

// Synchronizer reconciles the live tool set against the persisted
// procedural collection. It runs at bootstrap and again whenever the
// plugin registry signals that the tool set changed.
type Synchronizer struct {
	vectors memory.VectorStore
}

// NewSynchronizer creates a synchronizer over the given store.
func NewSynchronizer(vectors memory.VectorStore) *Synchronizer {
	return &Synchronizer{vectors: vectors}
}

// Sync makes the procedural collection match the live tool set.
//
// Live tools whose description has no persisted point are embedded and
// upserted; persisted points whose description no longer belongs to any
// live tool are removed in one batched delete. Matching is by exact
// description string, so a description edit is delete-old plus add-new.
// Calling Sync again on an unchanged tool set does nothing.
func (s *Synchronizer) Sync(ctx context.Context, tools []Tool) error {
	records, err := s.vectors.ListAll(ctx, memory.CollectionProcedural)
	if err != nil {
		return fmt.Errorf("list embedded tools: %w", err)
	}

	embedded := make(map[string]bool, len(records))
	for _, rec := range records {
		embedded[rec.Content] = true
	}

	for _, tool := range tools {
		if embedded[tool.Description] {
			continue
		}
		_, err := s.vectors.Upsert(ctx, memory.CollectionProcedural,
			[]string{tool.Description},
			[]map[string]string{{
				"source":    "tool",
				"when":      time.Now().UTC().Format(time.RFC3339),
				"name":      tool.Name,
				"docstring": tool.Docstring,
			}},
		)
		if err != nil {
			return fmt.Errorf("embed tool %q: %w", tool.Name, err)
		}
		log.Printf("[TOOLS] Newly embedded tool: %s", tool.Description)
	}

	live := make(map[string]bool, len(tools))
	for _, tool := range tools {
		live[tool.Description] = true
	}

	// Collect every stale point first so the removal is one round-trip.
	var stale []string
	for _, rec := range records {
		if !live[rec.Content] {
			log.Printf("[TOOLS] Deleting embedded tool: %s", rec.Content)
			stale = append(stale, rec.ID)
		}
	}
	if len(stale) > 0 {
		if err := s.vectors.Delete(ctx, memory.CollectionProcedural, stale); err != nil {
			return fmt.Errorf("delete stale tools: %w", err)
		}
	}

	return nil
}
