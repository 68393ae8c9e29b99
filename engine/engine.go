// Package engine sequences one request/response cycle: hook points,
// oversize segmentation, memory recall, agent execution, episodic
// persistence, and response assembly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cheshire-cat-ai/gocat/core"
	"github.com/cheshire-cat-ai/gocat/ingest"
	"github.com/cheshire-cat-ai/gocat/memory"
	"github.com/cheshire-cat-ai/gocat/tools"
)

// MaxTextInput is the longest message text the recall and agent stages
// ever see. Anything beyond it is segmented off into declarative
// memory via ingestion.
const MaxTextInput = 500

// parseErrorDelimiter brackets the raw model text inside an agent
// structured-output parse failure.
const parseErrorDelimiter = "Could not parse LLM output: `"

// Agent is the reasoning collaborator: given a working memory holding
// the current message and the three recall sets, produce a reply.
type Agent interface {
	Run(ctx context.Context, wm *memory.WorkingMemory) (*core.AgentReply, error)
}

// Ingestor is the document-ingestion collaborator oversize overflow is
// routed to.
type Ingestor interface {
	Ingest(ctx context.Context, text, contentType, source string) error
}

// HookRegistry is the slice of the plugin registry the engine consumes:
// run hooks by name, and signal when the plugin set changed.
type HookRegistry interface {
	memory.HookRunner
	OnFinishPluginsSync(fn func())
}

// Options wires the engine's collaborators.
type Options struct {
	Vectors  memory.VectorStore
	Embedder memory.Embedder
	Hooks    HookRegistry
	Agent    Agent

	// Ingestor defaults to the built-in text splitter over Vectors.
	Ingestor Ingestor

	// Tools is the initial live tool set to sync into procedural
	// memory.
	Tools []tools.Tool

	// Recall tunes the default per-tier retrieval parameters.
	Recall memory.RecallOptions
}

// Engine is the conversational core: the component graph built once at
// startup and handed to every request handler.
type Engine struct {
	vectors  memory.VectorStore
	hooks    HookRegistry
	agent    Agent
	ingestor Ingestor

	store  *memory.WorkingMemoryList
	recall *memory.RecallEngine
	syncer *tools.Synchronizer

	toolsMu sync.Mutex
	tools   []tools.Tool
}

// New bootstraps the engine: components are built in dependency order,
// the tool index is synced, and the bootstrap hooks run around the
// whole thing. The registry's plugins-sync signal re-triggers tool
// sync for the lifetime of the engine.
func New(ctx context.Context, opts Options) (*Engine, error) {
	switch {
	case opts.Vectors == nil:
		return nil, fmt.Errorf("engine requires a vector store")
	case opts.Embedder == nil:
		return nil, fmt.Errorf("engine requires an embedder")
	case opts.Hooks == nil:
		return nil, fmt.Errorf("engine requires a hook registry")
	case opts.Agent == nil:
		return nil, fmt.Errorf("engine requires an agent")
	}

	if _, err := opts.Hooks.Execute(ctx, core.HookBeforeBootstrap, nil, nil); err != nil {
		return nil, err
	}

	recall, err := memory.NewRecallEngine(opts.Vectors, opts.Embedder, opts.Hooks, opts.Recall)
	if err != nil {
		return nil, err
	}

	ingestor := opts.Ingestor
	if ingestor == nil {
		ingestor = ingest.NewSplitter(opts.Vectors, 0)
	}

	e := &Engine{
		vectors:  opts.Vectors,
		hooks:    opts.Hooks,
		agent:    opts.Agent,
		ingestor: ingestor,
		store:    memory.NewWorkingMemoryList(),
		recall:   recall,
		syncer:   tools.NewSynchronizer(opts.Vectors),
		tools:    opts.Tools,
	}

	if err := e.syncTools(ctx); err != nil {
		return nil, err
	}
	opts.Hooks.OnFinishPluginsSync(func() {
		if err := e.syncTools(context.Background()); err != nil {
			log.Printf("[ENGINE] Tool resync failed: %v", err)
		}
	})

	if _, err := opts.Hooks.Execute(ctx, core.HookAfterBootstrap, nil, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// WorkingMemories exposes the per-user state registry.
func (e *Engine) WorkingMemories() *memory.WorkingMemoryList {
	return e.store
}

// ReplaceTools swaps the live tool set. The next plugins-sync signal
// (or an explicit syncTools) reconciles the procedural collection.
func (e *Engine) ReplaceTools(list []tools.Tool) {
	e.toolsMu.Lock()
	e.tools = list
	e.toolsMu.Unlock()
}

func (e *Engine) syncTools(ctx context.Context) error {
	e.toolsMu.Lock()
	list := e.tools
	e.toolsMu.Unlock()
	return e.syncer.Sync(ctx, list)
}

// Handle runs the full pipeline for one user message and returns the
// structured reply.
//
// Recall failure is the one terminal error path with a structured
// response (VectorMemoryError); an agent structured-output parse
// failure degrades to the raw model text; every other failure
// propagates to the transport boundary.
func (e *Engine) Handle(ctx context.Context, msg core.UserMessage) (*core.StructuredOutput, error) {
	if msg.UserID == "" {
		msg.UserID = core.DefaultUserID
	}
	log.Printf("[ENGINE] Message from %q: %s", msg.UserID, truncate(msg.Text, 80))

	wm := e.store.GetOrCreate(msg.UserID)

	// Serialize same-user requests for the whole cycle; distinct users
	// proceed fully concurrently.
	wm.Lock()
	defer wm.Unlock()

	wm.BeginRequest(msg)

	out, err := e.hooks.Execute(ctx, core.HookBeforeReadsMessage, msg, wm)
	if err != nil {
		return nil, err
	}
	msg, ok := out.(core.UserMessage)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, want core.UserMessage", core.HookBeforeReadsMessage, out)
	}
	wm.CurrentMessage = msg

	// Oversize input never reaches recall or the agent; the overflow
	// still lands in long-term memory.
	if kept, overflow := splitOversize(msg.Text); overflow != "" {
		if err := e.ingestor.Ingest(ctx, overflow, "text/plain", ""); err != nil {
			return nil, fmt.Errorf("ingest oversize remainder: %w", err)
		}
		msg.Text = kept
		wm.CurrentMessage = msg
		if err := wm.Post("Part of your message was stored in memory.", core.KindNotification); err != nil {
			return nil, err
		}
	}

	if err := e.recall.Recall(ctx, wm); err != nil {
		var incompat *memory.IncompatibilityError
		if !errors.As(err, &incompat) {
			return nil, err
		}
		log.Printf("[ENGINE] Recall failed: %v", err)
		return &core.StructuredOutput{
			Type: "error",
			Name: "VectorMemoryError",
			Description: "You probably changed Embedder and old vector memory is not compatible. " +
				"Please delete the long term memory folder.",
		}, nil
	}

	reply, err := e.agent.Run(ctx, wm)
	if err != nil {
		// Models that ignore structured-output instructions still
		// produce usable text; salvage it instead of failing.
		raw, ok := unparsedOutput(err)
		if !ok {
			return nil, err
		}
		log.Printf("[ENGINE] Agent output unparsable, using raw text")
		reply = &core.AgentReply{
			Input:             wm.CurrentMessage.Text,
			IntermediateSteps: []core.IntermediateStep{},
			Output:            raw,
		}
	}

	userMessage := wm.CurrentMessage.Text
	_, err = e.vectors.Upsert(ctx, memory.CollectionEpisodic,
		[]string{userMessage},
		[]map[string]string{{
			"source": msg.UserID,
			"when":   time.Now().UTC().Format(time.RFC3339),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("store episodic memory: %w", err)
	}

	final := &core.StructuredOutput{
		Type:    "chat",
		UserID:  msg.UserID,
		Content: reply.Output,
		Why: &core.Why{
			Input:             reply.Input,
			IntermediateSteps: reply.IntermediateSteps,
			Memory: core.WhyMemory{
				Episodic:    wm.EpisodicMemories,
				Declarative: wm.DeclarativeMemories,
				Procedural:  wm.ProceduralMemories,
			},
		},
	}

	out, err = e.hooks.Execute(ctx, core.HookBeforeSendsMessage, final, wm)
	if err != nil {
		return nil, err
	}
	final, ok = out.(*core.StructuredOutput)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, want *core.StructuredOutput", core.HookBeforeSendsMessage, out)
	}

	wm.UpdateHistory(core.SpeakerHuman, userMessage, nil)
	wm.UpdateHistory(core.SpeakerAI, final.Content, final.Why)

	return final, nil
}

// Send posts an out-of-band message onto a user's notification queue,
// bypassing the pipeline. A nil wm targets the default user.
func (e *Engine) Send(wm *memory.WorkingMemory, content string, kind core.MessageKind) error {
	if wm == nil {
		wm = e.store.GetOrCreate("")
	}
	return wm.Post(content, kind)
}

// Close tears the component graph down.
func (e *Engine) Close() error {
	e.recall.Close()
	return e.vectors.Close()
}

// splitOversize cuts text at the last whitespace at or before
// MaxTextInput runes, falling back to a hard cut when the head has no
// whitespace at all. Short input passes through untouched.
func splitOversize(text string) (kept, overflow string) {
	runes := []rune(text)
	if len(runes) <= MaxTextInput {
		return text, ""
	}

	cut := MaxTextInput
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut <= 0 {
		cut = MaxTextInput
	}
	return string(runes[:cut]), string(runes[cut:])
}

// unparsedOutput extracts the raw model text from an agent parse
// failure whose message embeds it between backtick delimiters.
func unparsedOutput(err error) (string, bool) {
	s := err.Error()
	i := strings.Index(s, parseErrorDelimiter)
	if i < 0 {
		return "", false
	}
	raw := s[i+len(parseErrorDelimiter):]
	return strings.ReplaceAll(raw, "`", ""), true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
