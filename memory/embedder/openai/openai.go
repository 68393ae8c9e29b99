// Package openai implements memory.Embedder on the OpenAI embeddings
// API. This is the API-backed alternative to the local ONNX embedder.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultDimensions = 1536 // text-embedding-3-small

// Config configures the embedder.
type Config struct {
	// APIKey authenticates against the OpenAI API. Required.
	APIKey string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimensions defaults to the model's native size.
	Dimensions int
}

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// New creates an OpenAI embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))

	return &Embedder{
		client:     &client,
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts a single text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	raw := res.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
