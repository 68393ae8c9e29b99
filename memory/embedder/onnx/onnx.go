//go:build onnx

// Package onnx implements memory.Embedder with a local MiniLM model
// running on ONNX Runtime. Build with the onnx tag; the runtime shared
// library must be present on the machine.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	maxSequence = 128
	clsToken    = 101
	sepToken    = 102
	unkToken    = 100
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath points at the .onnx model file. Required.
	ModelPath string

	// TokenizerPath points at the model's tokenizer.json. Required.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Defaults to the
	// ONNXRUNTIME_LIB environment variable.
	SharedLibraryPath string

	// Dimensions defaults to 384 (all-MiniLM-L6-v2).
	Dimensions int
}

// Embedder runs sentence embeddings through an ONNX session.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int
	dimensions int
}

// New creates an ONNX embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("onnx embedder requires ModelPath and TokenizerPath")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.SharedLibraryPath == "" {
		cfg.SharedLibraryPath = os.Getenv("ONNXRUNTIME_LIB")
	}
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to a normalized embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := e.tokenize(text)
	if len(tokens) > maxSequence-2 {
		tokens = tokens[:maxSequence-2]
	}

	inputIDs := make([]int64, maxSequence)
	attentionMask := make([]int64, maxSequence)
	tokenTypeIDs := make([]int64, maxSequence)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attentionMask[i+1] = 1
	}
	inputIDs[len(tokens)+1] = sepToken
	attentionMask[len(tokens)+1] = 1

	shape := ort.NewShape(1, int64(maxSequence))
	inputs := make([]ort.Value, 0, 3)
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			for _, in := range inputs {
				in.Destroy()
			}
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}
	defer func() {
		for _, in := range inputs {
			in.Destroy()
		}
	}()

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	return e.meanPool(tensor, attentionMask)
}

// meanPool averages the hidden states of attended tokens into a single
// normalized sentence vector.
func (e *Embedder) meanPool(tensor *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	seqLen, hidden := int(shape[1]), int(shape[2])
	if hidden != e.dimensions {
		return nil, fmt.Errorf("hidden size %d does not match configured dimensions %d", hidden, e.dimensions)
	}

	embedding := make([]float32, hidden)
	var attended float32
	for i := 0; i < seqLen; i++ {
		if attentionMask[i] == 0 {
			continue
		}
		attended++
		offset := i * hidden
		for j := 0; j < hidden; j++ {
			embedding[j] += data[offset+j]
		}
	}
	if attended == 0 {
		return nil, fmt.Errorf("no attended tokens")
	}

	var norm float32
	for j := range embedding {
		embedding[j] /= attended
		norm += embedding[j] * embedding[j]
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for j := range embedding {
			embedding[j] /= norm
		}
	}
	return embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// tokenize applies lowercased WordPiece tokenization with greedy
// longest-prefix matching.
func (e *Embedder) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := e.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, e.wordPiece(word)...)
	}
	return tokens
}

func (e *Embedder) wordPiece(word string) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				pieces = append(pieces, int64(id))
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, unkToken)
			start++
		}
	}
	return pieces
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenizer struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizer); err != nil {
		return nil, err
	}
	if len(tokenizer.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary in %s", path)
	}
	return tokenizer.Model.Vocab, nil
}
