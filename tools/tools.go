// Package tools defines the callable capabilities exposed to the
// reasoning agent and keeps their embeddings in sync with the
// procedural memory collection.
package tools

import "context"

// Tool is a callable capability. The agent selects tools semantically,
// so Description is the embeddable text and doubles as the tool's
// indexing identity: two tools with the same description are the same
// indexed entity, and renaming a tool without touching its description
// is a no-op for the index.
type Tool struct {
	Name        string
	Description string
	Docstring   string

	// Fn executes the tool. Input is whatever the agent decided to
	// pass; the returned string is the observation fed back to it.
	Fn func(ctx context.Context, input string) (string, error)
}
