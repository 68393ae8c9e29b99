// Package llm abstracts text generation behind a single capability:
// produce text from a prompt, optionally streaming tokens as they
// arrive.
package llm

import "context"

// TokenCallback receives tokens as the model produces them.
type TokenCallback func(token string)

// Generator produces text from a prompt. A nil onToken means no
// streaming; otherwise tokens are delivered incrementally and the full
// text is still returned at the end.
type Generator interface {
	Generate(ctx context.Context, prompt string, onToken TokenCallback) (string, error)
}
