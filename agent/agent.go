// Package agent runs the reasoning step of the pipeline: it assembles
// a prompt from working memory (conversation so far plus the three
// recall sets), lets the model think, executes any tool it picks, and
// returns a structured reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cheshire-cat-ai/gocat/core"
	"github.com/cheshire-cat-ai/gocat/llm"
	"github.com/cheshire-cat-ai/gocat/memory"
	"github.com/cheshire-cat-ai/gocat/tools"
)

const maxToolTurns = 5

// LLMAgent is the default reasoning agent.
type LLMAgent struct {
	generator llm.Generator
	tools     map[string]tools.Tool
	stream    bool
}

// Option configures the agent.
type Option func(*LLMAgent)

// WithStreaming makes the agent push each final-answer token onto the
// user's notification queue as a chat_token message.
func WithStreaming() Option {
	return func(a *LLMAgent) {
		a.stream = true
	}
}

// New creates an agent over the given generator and tool set.
func New(generator llm.Generator, toolset []tools.Tool, opts ...Option) *LLMAgent {
	byName := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		byName[t.Name] = t
	}
	a := &LLMAgent{generator: generator, tools: byName}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// action is the JSON envelope the model answers with: either a tool
// invocation or the final output, never both.
type action struct {
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Output      string `json:"output,omitempty"`
}

// Run produces a reply for the request held in wm. Reasoning steps
// taken on the way (tool calls and their observations) come back in
// IntermediateSteps.
//
// If the model does not respect the output format, Run fails with an
// error embedding the raw model text between backticks so the caller
// can salvage it.
func (a *LLMAgent) Run(ctx context.Context, wm *memory.WorkingMemory) (*core.AgentReply, error) {
	input := wm.CurrentMessage.Text
	var steps []core.IntermediateStep

	var onToken llm.TokenCallback
	if a.stream {
		onToken = func(token string) {
			// Fire and forget: delivery is the transport's problem.
			_ = wm.Post(token, core.KindChatToken)
		}
	}

	for turn := 0; turn < maxToolTurns; turn++ {
		prompt := a.buildPrompt(wm, steps)

		raw, err := a.generator.Generate(ctx, prompt, onToken)
		if err != nil {
			return nil, err
		}

		var act action
		if err := json.Unmarshal([]byte(extractJSON(raw)), &act); err != nil {
			return nil, fmt.Errorf("Could not parse LLM output: `%s`", strings.TrimSpace(raw))
		}

		if act.Action == "" {
			return &core.AgentReply{
				Input:             input,
				IntermediateSteps: steps,
				Output:            act.Output,
			}, nil
		}

		observation := a.execute(ctx, act.Action, act.ActionInput)
		steps = append(steps, core.IntermediateStep{
			Tool:        act.Action,
			Input:       act.ActionInput,
			Observation: observation,
		})
		log.Printf("[AGENT] %s(%s) -> %s", act.Action, truncate(act.ActionInput, 40), truncate(observation, 60))
	}

	return nil, fmt.Errorf("agent exceeded %d tool turns", maxToolTurns)
}

// execute runs one tool call; failures become observations the model
// can react to rather than request-fatal errors.
func (a *LLMAgent) execute(ctx context.Context, name, input string) string {
	tool, ok := a.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	out, err := tool.Fn(ctx, input)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return out
}

func (a *LLMAgent) buildPrompt(wm *memory.WorkingMemory, steps []core.IntermediateStep) string {
	var b strings.Builder

	b.WriteString("You are an AI assistant with long-term memory. Answer the user's message using the context below.\n\n")

	writeHits(&b, "## Relevant past conversations\n", wm.EpisodicMemories)
	writeHits(&b, "## Relevant documents\n", wm.DeclarativeMemories)

	if len(wm.ProceduralMemories) > 0 {
		b.WriteString("## Available tools\n")
		for _, hit := range wm.ProceduralMemories {
			name := hit.Metadata["name"]
			b.WriteString(fmt.Sprintf("- %s: %s\n", name, hit.Content))
		}
		b.WriteString("\n")
	}

	if len(wm.History) > 0 {
		b.WriteString("## Conversation\n")
		for _, turn := range wm.History {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Who, turn.Message))
		}
		b.WriteString("\n")
	}

	for _, step := range steps {
		b.WriteString(fmt.Sprintf("Tool %s was called with %q and observed: %s\n", step.Tool, step.Input, step.Observation))
	}

	b.WriteString(fmt.Sprintf("\nHuman: %s\n\n", wm.CurrentMessage.Text))
	b.WriteString("Reply with a single JSON object. To call a tool: " +
		`{"action": "<tool name>", "action_input": "<input>"}. ` +
		`To answer: {"output": "<your answer>"}.`)

	return b.String()
}

func writeHits(b *strings.Builder, header string, hits []core.MemoryHit) {
	if len(hits) == 0 {
		return
	}
	b.WriteString(header)
	for _, hit := range hits {
		b.WriteString("- ")
		b.WriteString(hit.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// extractJSON pulls the outermost JSON object out of a model response
// that may wrap it in prose or a code fence.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
