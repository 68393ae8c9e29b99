// Package ingest turns raw text into declarative memory chunks. It is
// the minimal local stand-in for a full document-ingestion subsystem:
// plain text in, whitespace-aligned chunks upserted into the
// declarative collection.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/cheshire-cat-ai/gocat/memory"
)

const defaultChunkSize = 256

// Splitter chunks text and stores the chunks in declarative memory.
type Splitter struct {
	vectors   memory.VectorStore
	chunkSize int
}

// NewSplitter creates a splitter. chunkSize <= 0 defaults to 256
// characters.
func NewSplitter(vectors memory.VectorStore, chunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Splitter{vectors: vectors, chunkSize: chunkSize}
}

// Ingest splits text into chunks and upserts them into the declarative
// collection, tagged with the given source. Only text/plain content is
// handled here; richer parsers belong to a real ingestion subsystem.
func (s *Splitter) Ingest(ctx context.Context, text, contentType, source string) error {
	if contentType != "" && contentType != "text/plain" {
		return fmt.Errorf("unsupported content type %q", contentType)
	}

	chunks := Split(text, s.chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	when := time.Now().UTC().Format(time.RFC3339)
	metadatas := make([]map[string]string, len(chunks))
	for i := range chunks {
		metadatas[i] = map[string]string{
			"source": source,
			"when":   when,
		}
	}

	if _, err := s.vectors.Upsert(ctx, memory.CollectionDeclarative, chunks, metadatas); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	log.Printf("[INGEST] Stored %d chunks (source=%q)", len(chunks), source)
	return nil
}

// Split cuts text into chunks of at most chunkSize runes, breaking on
// the last whitespace before the limit when one exists. Chunks are
// trimmed; empty chunks are dropped.
func Split(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)

	for len(runes) > 0 {
		if len(runes) <= chunkSize {
			if chunk := strings.TrimSpace(string(runes)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := chunkSize
		for cut > 0 && !unicode.IsSpace(runes[cut]) {
			cut--
		}
		if cut == 0 {
			cut = chunkSize
		}

		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}

	return chunks
}
