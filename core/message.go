package core

import "time"

// DefaultUserID is the shared user for clients that do not identify
// themselves. Its working memory acts as a global session.
const DefaultUserID = "user"

// UserMessage is one inbound message from a client.
type UserMessage struct {
	// Text is the message content. The pipeline may rewrite it
	// (before_cat_reads_message) or truncate it (oversize segmentation)
	// before it reaches recall and the agent.
	Text string `json:"text"`

	// UserID selects the working memory the message runs against.
	// Empty means DefaultUserID.
	UserID string `json:"user_id"`

	// Extra carries transport metadata hooks may want to read or inject.
	Extra map[string]any `json:"extra,omitempty"`
}

// Turn is one entry of a conversation history.
type Turn struct {
	// Who is either "Human" or "AI".
	Who     string    `json:"who"`
	Message string    `json:"message"`
	Why     *Why      `json:"why,omitempty"`
	When    time.Time `json:"when"`
}

// Speaker roles for Turn.Who.
const (
	SpeakerHuman = "Human"
	SpeakerAI    = "AI"
)

// MemoryHit is one vector-store match: the stored document plus its
// similarity score, cosine distance, and point id.
type MemoryHit struct {
	Content  string            `json:"page_content"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"score"`
	Distance float32           `json:"distance"`
	ID       string            `json:"id"`
}

// MemoryRecord is a persisted point as returned by a full collection
// listing (no query, no score).
type MemoryRecord struct {
	ID       string            `json:"id"`
	Content  string            `json:"page_content"`
	Metadata map[string]string `json:"metadata"`
}

// IntermediateStep is one reasoning step the agent took on the way to
// its final answer.
type IntermediateStep struct {
	Tool        string `json:"tool"`
	Input       string `json:"tool_input"`
	Observation string `json:"observation"`
}

// AgentReply is what the reasoning agent returns for one request.
type AgentReply struct {
	Input             string             `json:"input"`
	IntermediateSteps []IntermediateStep `json:"intermediate_steps"`
	Output            string             `json:"output"`
}

// WhyMemory lists the three recall sets that informed a reply, in
// fixed tier order.
type WhyMemory struct {
	Episodic    []MemoryHit `json:"episodic"`
	Declarative []MemoryHit `json:"declarative"`
	Procedural  []MemoryHit `json:"procedural"`
}

// Why explains a reply: the (possibly rewritten) input, the agent's
// reasoning trace, and the memories that were recalled for it.
type Why struct {
	Input             string             `json:"input"`
	IntermediateSteps []IntermediateStep `json:"intermediate_steps"`
	Memory            WhyMemory          `json:"memory"`
}

// StructuredOutput is the pipeline's answer to one user message.
// Type is "chat" for replies and "error" for terminal failures the
// client should show as-is (Name then identifies the error kind).
type StructuredOutput struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id,omitempty"`
	Content     string `json:"content,omitempty"`
	Why         *Why   `json:"why,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}
