// Package mock provides a deterministic embedder for tests and local
// runs without model files. Texts sharing words land near each other,
// which is enough structure for recall tests; it is not a real
// semantic embedding.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder hashes each word into a vector bucket and normalizes the
// resulting bag-of-words vector.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder. dimensions <= 0 defaults to 384, the
// all-MiniLM-L6-v2 size the local ONNX embedder produces.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed converts text to a deterministic unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimensions))
		// Sign from a high bit so buckets can cancel as well as add.
		if sum&(1<<63) != 0 {
			embedding[bucket]--
		} else {
			embedding[bucket]++
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		// Empty text: arbitrary fixed unit vector keeps stores happy.
		vec[0] = 1
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
