package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cheshire-cat-ai/gocat/core"
	"github.com/cheshire-cat-ai/gocat/engine"
	"github.com/cheshire-cat-ai/gocat/hooks"
	"github.com/cheshire-cat-ai/gocat/memory"
	"github.com/cheshire-cat-ai/gocat/tools"
)

// pipelineStore is an in-memory VectorStore that records upserts per
// collection. Query is safe for the recall engine's concurrent tier
// fan-out.
type pipelineStore struct {
	mu          sync.Mutex
	upserts     map[string][]string
	metadatas   map[string][]map[string]string
	failQueries bool
}

func newPipelineStore() *pipelineStore {
	return &pipelineStore{
		upserts:   make(map[string][]string),
		metadatas: make(map[string][]map[string]string),
	}
}

func (s *pipelineStore) Query(ctx context.Context, collection string, cfg memory.RecallConfig) ([]core.MemoryHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQueries {
		return nil, fmt.Errorf("dimension mismatch")
	}
	return nil, nil
}

func (s *pipelineStore) Upsert(ctx context.Context, collection string, texts []string, metadatas []map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[collection] = append(s.upserts[collection], texts...)
	s.metadatas[collection] = append(s.metadatas[collection], metadatas...)
	return make([]string, len(texts)), nil
}

func (s *pipelineStore) Delete(ctx context.Context, collection string, ids []string) error {
	return nil
}

func (s *pipelineStore) ListAll(ctx context.Context, collection string) ([]core.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]core.MemoryRecord, 0, len(s.upserts[collection]))
	for i, text := range s.upserts[collection] {
		records = append(records, core.MemoryRecord{
			ID:      fmt.Sprintf("%s-%d", collection, i),
			Content: text,
		})
	}
	return records, nil
}

func (s *pipelineStore) Close() error { return nil }

func (s *pipelineStore) stored(collection string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.upserts[collection]...)
}

type flatEmbedder struct{}

func (flatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, 4)
	emb[0] = 1
	return emb, nil
}

func (flatEmbedder) Dimensions() int { return 4 }

// funcAgent adapts a function to the engine.Agent interface and records
// the message text each run saw.
type funcAgent struct {
	fn   func(wm *memory.WorkingMemory) (*core.AgentReply, error)
	seen []string
}

func (a *funcAgent) Run(ctx context.Context, wm *memory.WorkingMemory) (*core.AgentReply, error) {
	a.seen = append(a.seen, wm.CurrentMessage.Text)
	if a.fn != nil {
		return a.fn(wm)
	}
	return &core.AgentReply{
		Input:  wm.CurrentMessage.Text,
		Output: "echo: " + wm.CurrentMessage.Text,
	}, nil
}

type recordingIngestor struct {
	texts   []string
	sources []string
}

func (r *recordingIngestor) Ingest(ctx context.Context, text, contentType, source string) error {
	r.texts = append(r.texts, text)
	r.sources = append(r.sources, source)
	return nil
}

func newTestEngine(t *testing.T, store *pipelineStore, registry *hooks.ChainRegistry, agent engine.Agent, ingestor engine.Ingestor) *engine.Engine {
	t.Helper()
	eng, err := engine.New(context.Background(), engine.Options{
		Vectors:  store,
		Embedder: flatEmbedder{},
		Hooks:    registry,
		Agent:    agent,
		Ingestor: ingestor,
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestNew_ValidatesCollaborators(t *testing.T) {
	_, err := engine.New(context.Background(), engine.Options{
		Embedder: flatEmbedder{},
		Hooks:    hooks.NewChainRegistry(),
		Agent:    &funcAgent{},
	})
	if err == nil {
		t.Fatal("expected bootstrap without a vector store to fail")
	}
}

func TestNew_RunsBootstrapHooksAndSyncsTools(t *testing.T) {
	store := newPipelineStore()
	registry := hooks.NewChainRegistry()

	var order []string
	registry.Register(core.HookBeforeBootstrap, 0, func(ctx context.Context, payload any, wm *memory.WorkingMemory) (any, error) {
		order = append(order, "before")
		return payload, nil
	})
	registry.Register(core.HookAfterBootstrap, 0, func(ctx context.Context, payload any, wm *memory.WorkingMemory) (any, error) {
		order = append(order, "after")
		return payload, nil
	})

	eng, err := engine.New(context.Background(), engine.Options{
		Vectors:  store,
		Embedder: flatEmbedder{},
		Hooks:    registry,
		Agent:    &funcAgent{},
		Tools: []tools.Tool{{
			Name:        "get_the_time",
			Description: "get_the_time: replies to what time is it",
			Fn:          func(ctx context.Context, input string) (string, error) { return "", nil },
		}},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer eng.Close()

	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Errorf("bootstrap hooks ran out of order: %v", order)
	}
	stored := store.stored(memory.CollectionProcedural)
	if len(stored) != 1 || stored[0] != "get_the_time: replies to what time is it" {
		t.Errorf("tool not synced at bootstrap: %v", stored)
	}
}

func TestNew_PluginsSyncRetriggersToolSync(t *testing.T) {
	store := newPipelineStore()
	registry := hooks.NewChainRegistry()
	eng := newTestEngine(t, store, registry, &funcAgent{}, nil)

	eng.ReplaceTools([]tools.Tool{{
		Name:        "late_tool",
		Description: "late_tool: arrived after bootstrap",
		Fn:          func(ctx context.Context, input string) (string, error) { return "", nil },
	}})
	registry.NotifyPluginsSync()

	stored := store.stored(memory.CollectionProcedural)
	if len(stored) != 1 || stored[0] != "late_tool: arrived after bootstrap" {
		t.Errorf("plugins-sync signal did not resync tools: %v", stored)
	}
}

func TestHandle_HappyPath(t *testing.T) {
	store := newPipelineStore()
	agent := &funcAgent{}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, nil)

	out, err := eng.Handle(context.Background(), core.UserMessage{Text: "hello", UserID: "alice"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if out.Type != "chat" || out.UserID != "alice" {
		t.Errorf("unexpected envelope: type=%q user=%q", out.Type, out.UserID)
	}
	if out.Content != "echo: hello" {
		t.Errorf("wrong content: %q", out.Content)
	}
	if out.Why == nil || out.Why.Input != "hello" {
		t.Errorf("why trace missing or wrong: %+v", out.Why)
	}

	wm := eng.WorkingMemories().GetOrCreate("alice")
	if len(wm.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(wm.History))
	}
	if wm.History[0].Who != core.SpeakerHuman || wm.History[0].Message != "hello" {
		t.Errorf("first turn must be the human message: %+v", wm.History[0])
	}
	if wm.History[1].Who != core.SpeakerAI || wm.History[1].Message != "echo: hello" {
		t.Errorf("second turn must be the reply: %+v", wm.History[1])
	}

	stored := store.stored(memory.CollectionEpisodic)
	if len(stored) != 1 || stored[0] != "hello" {
		t.Errorf("user message not persisted to episodic memory: %v", stored)
	}
	store.mu.Lock()
	meta := store.metadatas[memory.CollectionEpisodic][0]
	store.mu.Unlock()
	if meta["source"] != "alice" || meta["when"] == "" {
		t.Errorf("episodic metadata incomplete: %v", meta)
	}
}

func TestHandle_EmptyUserIDMapsToDefault(t *testing.T) {
	store := newPipelineStore()
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), &funcAgent{}, nil)

	out, err := eng.Handle(context.Background(), core.UserMessage{Text: "anonymous hello"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.UserID != core.DefaultUserID {
		t.Errorf("expected default user id, got %q", out.UserID)
	}
	if eng.WorkingMemories().Len() != 1 {
		t.Errorf("expected a single default-user working memory")
	}
}

func TestHandle_OversizeSegmentsAtWhitespace(t *testing.T) {
	store := newPipelineStore()
	agent := &funcAgent{}
	ingestor := &recordingIngestor{}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, ingestor)

	head := strings.Repeat("x", 480)
	tail := strings.Repeat("y", 169)
	msg := head + " " + tail // 650 chars, last space at index 480

	if _, err := eng.Handle(context.Background(), core.UserMessage{Text: msg, UserID: "alice"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(agent.seen) != 1 || agent.seen[0] != head {
		t.Errorf("agent should see the text kept before the cut, got %d chars", len(agent.seen[0]))
	}
	if len(ingestor.texts) != 1 || strings.TrimSpace(ingestor.texts[0]) != tail {
		t.Errorf("overflow not routed to ingestion: %d texts", len(ingestor.texts))
	}

	wm := eng.WorkingMemories().GetOrCreate("alice")
	note, ok := wm.WSMessages.TryPop()
	if !ok || note.Type != core.KindNotification {
		t.Fatalf("expected a notification about the stored remainder, got %+v", note)
	}
	if note.Content != "Part of your message was stored in memory." {
		t.Errorf("wrong notification text: %q", note.Content)
	}
}

func TestHandle_OversizeHardCutWithoutWhitespace(t *testing.T) {
	store := newPipelineStore()
	agent := &funcAgent{}
	ingestor := &recordingIngestor{}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, ingestor)

	msg := strings.Repeat("z", 600)
	if _, err := eng.Handle(context.Background(), core.UserMessage{Text: msg, UserID: "alice"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(agent.seen[0]) != engine.MaxTextInput {
		t.Errorf("hard cut should keep exactly %d chars, got %d", engine.MaxTextInput, len(agent.seen[0]))
	}
	if len(ingestor.texts) != 1 || len(ingestor.texts[0]) != 100 {
		t.Errorf("overflow wrong: %d texts", len(ingestor.texts))
	}
}

func TestHandle_ShortMessageIsNotSegmented(t *testing.T) {
	store := newPipelineStore()
	ingestor := &recordingIngestor{}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), &funcAgent{}, ingestor)

	if _, err := eng.Handle(context.Background(), core.UserMessage{Text: "short", UserID: "alice"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ingestor.texts) != 0 {
		t.Errorf("short message must not be ingested: %v", ingestor.texts)
	}
	wm := eng.WorkingMemories().GetOrCreate("alice")
	if wm.WSMessages.Len() != 0 {
		t.Error("no notification expected for a short message")
	}
}

func TestHandle_RecallFailureReturnsStructuredError(t *testing.T) {
	store := newPipelineStore()
	store.failQueries = true
	agent := &funcAgent{}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, nil)

	out, err := eng.Handle(context.Background(), core.UserMessage{Text: "hello", UserID: "alice"})
	if err != nil {
		t.Fatalf("incompatibility must produce a structured response, not an error: %v", err)
	}
	if out.Type != "error" || out.Name != "VectorMemoryError" {
		t.Errorf("wrong error envelope: type=%q name=%q", out.Type, out.Name)
	}
	if !strings.Contains(out.Description, "Embedder") {
		t.Errorf("description should point at the embedder swap: %q", out.Description)
	}
	if len(agent.seen) != 0 {
		t.Error("agent must not run when recall fails")
	}
}

func TestHandle_UnparsableAgentOutputDegradesToRawText(t *testing.T) {
	store := newPipelineStore()
	agent := &funcAgent{fn: func(wm *memory.WorkingMemory) (*core.AgentReply, error) {
		return nil, fmt.Errorf("Could not parse LLM output: `hello `world``")
	}}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, nil)

	out, err := eng.Handle(context.Background(), core.UserMessage{Text: "hi", UserID: "alice"})
	if err != nil {
		t.Fatalf("parse failure must degrade, not fail: %v", err)
	}
	if out.Content != "hello world" {
		t.Errorf("raw text not salvaged (backticks must be stripped): %q", out.Content)
	}
	if out.Why == nil || out.Why.IntermediateSteps == nil || len(out.Why.IntermediateSteps) != 0 {
		t.Errorf("degraded reply should carry empty (not nil) steps: %+v", out.Why)
	}

	// The exchange still lands in episodic memory and history.
	if stored := store.stored(memory.CollectionEpisodic); len(stored) != 1 {
		t.Errorf("episodic persistence skipped on degraded run: %v", stored)
	}
}

func TestHandle_OtherAgentErrorsPropagate(t *testing.T) {
	store := newPipelineStore()
	agent := &funcAgent{fn: func(wm *memory.WorkingMemory) (*core.AgentReply, error) {
		return nil, fmt.Errorf("model unavailable")
	}}
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), agent, nil)

	if _, err := eng.Handle(context.Background(), core.UserMessage{Text: "hi", UserID: "alice"}); err == nil {
		t.Fatal("non-parse agent errors must propagate")
	}
	if stored := store.stored(memory.CollectionEpisodic); len(stored) != 0 {
		t.Errorf("failed run must not persist the exchange: %v", stored)
	}
}

func TestHandle_BeforeReadsMessageRewrites(t *testing.T) {
	store := newPipelineStore()
	registry := hooks.NewChainRegistry()
	registry.Register(core.HookBeforeReadsMessage, 0, func(ctx context.Context, payload any, wm *memory.WorkingMemory) (any, error) {
		msg := payload.(core.UserMessage)
		msg.Text = "rewritten"
		return msg, nil
	})
	agent := &funcAgent{}
	eng := newTestEngine(t, store, registry, agent, nil)

	if _, err := eng.Handle(context.Background(), core.UserMessage{Text: "original", UserID: "alice"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(agent.seen) != 1 || agent.seen[0] != "rewritten" {
		t.Errorf("agent saw %v, want the rewritten message", agent.seen)
	}
	if stored := store.stored(memory.CollectionEpisodic); len(stored) != 1 || stored[0] != "rewritten" {
		t.Errorf("episodic memory should hold the rewritten text: %v", stored)
	}
}

func TestHandle_BeforeSendsMessageTransformsReply(t *testing.T) {
	store := newPipelineStore()
	registry := hooks.NewChainRegistry()
	registry.Register(core.HookBeforeSendsMessage, 0, func(ctx context.Context, payload any, wm *memory.WorkingMemory) (any, error) {
		final := payload.(*core.StructuredOutput)
		final.Content = final.Content + " [reviewed]"
		return final, nil
	})
	eng := newTestEngine(t, store, registry, &funcAgent{}, nil)

	out, err := eng.Handle(context.Background(), core.UserMessage{Text: "hi", UserID: "alice"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Content != "echo: hi [reviewed]" {
		t.Errorf("outgoing hook not applied: %q", out.Content)
	}

	wm := eng.WorkingMemories().GetOrCreate("alice")
	if got := wm.History[1].Message; got != "echo: hi [reviewed]" {
		t.Errorf("history should record the transformed reply: %q", got)
	}
}

func TestHandle_DistinctUsersDoNotShareState(t *testing.T) {
	store := newPipelineStore()
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), &funcAgent{}, nil)
	ctx := context.Background()

	if _, err := eng.Handle(ctx, core.UserMessage{Text: "from alice", UserID: "alice"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := eng.Handle(ctx, core.UserMessage{Text: "from bob", UserID: "bob"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	alice := eng.WorkingMemories().GetOrCreate("alice")
	bob := eng.WorkingMemories().GetOrCreate("bob")
	if len(alice.History) != 2 || len(bob.History) != 2 {
		t.Fatalf("each user keeps their own history: alice=%d bob=%d", len(alice.History), len(bob.History))
	}
	if alice.History[0].Message == bob.History[0].Message {
		t.Error("histories leaked across users")
	}
}

func TestSend_PostsOutOfBandMessage(t *testing.T) {
	store := newPipelineStore()
	eng := newTestEngine(t, store, hooks.NewChainRegistry(), &funcAgent{}, nil)

	if err := eng.Send(nil, "plugin says hi", core.KindNotification); err != nil {
		t.Fatalf("send: %v", err)
	}

	wm := eng.WorkingMemories().GetOrCreate("")
	m, ok := wm.WSMessages.TryPop()
	if !ok || m.Content != "plugin says hi" {
		t.Fatalf("out-of-band message not queued for the default user: %+v", m)
	}
}
