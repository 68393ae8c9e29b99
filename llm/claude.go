package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// ClaudeConfig configures the Claude generator.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
}

// Claude implements Generator on the Anthropic Messages API.
type Claude struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaude creates a Claude generator.
func NewClaude(client *anthropic.Client, cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Claude{
		client:    client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}
}

// Generate produces a completion for the prompt. With a callback the
// response is streamed and tokens delivered as they arrive.
func (c *Claude) Generate(ctx context.Context, prompt string, onToken TokenCallback) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var resp *anthropic.Message
	var err error
	if onToken != nil {
		resp, err = c.generateStreaming(ctx, params, onToken)
	} else {
		resp, err = c.client.Messages.New(ctx, params)
	}
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// generateStreaming accumulates a streamed response while forwarding
// text deltas to the callback.
func (c *Claude) generateStreaming(ctx context.Context, params anthropic.MessageNewParams, onToken TokenCallback) (*anthropic.Message, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()

		if err := message.Accumulate(event); err != nil {
			// Accumulation errors are non-fatal; the stream keeps going.
			continue
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onToken(delta.Text)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}
