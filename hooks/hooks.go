// Package hooks provides the extension-point registry the pipeline and
// recall engine dispatch through. Plugin discovery is out of scope;
// handlers are registered programmatically and run in priority order.
package hooks

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/cheshire-cat-ai/gocat/memory"
)

// Handler is one registered extension. It receives the payload for its
// extension point and the working memory of the request (nil for
// bootstrap-time hooks), and returns the payload to pass to the next
// handler in the chain. Payload types per hook name are documented on
// the core.Hook* constants.
//
// A handler that returns an error aborts the chain; the error
// propagates to whoever triggered the hook. Handlers are trusted but
// not isolated.
type Handler func(ctx context.Context, payload any, wm *memory.WorkingMemory) (any, error)

type registration struct {
	priority int
	seq      int
	fn       Handler
}

// ChainRegistry is the in-process hook registry. For each name it
// keeps an ordered handler chain: higher priority first, registration
// order as the stable tie-break.
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[string][]registration
	seq    int

	syncMu      sync.Mutex
	onSyncFuncs []func()
}

// NewChainRegistry creates an empty registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{chains: make(map[string][]registration)}
}

// Register adds a handler for a hook name. Higher priority runs
// earlier; equal priorities keep registration order.
func (r *ChainRegistry) Register(name string, priority int, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	chain := append(r.chains[name], registration{priority: priority, seq: r.seq, fn: fn})
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority > chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
	r.chains[name] = chain
}

// Execute runs every handler registered under name, threading payload
// through the chain, and returns the final payload. With no handlers
// registered the payload passes through unchanged.
func (r *ChainRegistry) Execute(ctx context.Context, name string, payload any, wm *memory.WorkingMemory) (any, error) {
	r.mu.RLock()
	chain := r.chains[name]
	r.mu.RUnlock()

	for _, reg := range chain {
		out, err := reg.fn(ctx, payload, wm)
		if err != nil {
			log.Printf("[HOOKS] %s handler failed: %v", name, err)
			return nil, err
		}
		payload = out
	}
	return payload, nil
}

// OnFinishPluginsSync registers a callback to run whenever the plugin
// set changes. The pipeline uses this to resync the tool index.
func (r *ChainRegistry) OnFinishPluginsSync(fn func()) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	r.onSyncFuncs = append(r.onSyncFuncs, fn)
}

// NotifyPluginsSync signals that plugins finished (re)loading. It is
// notification-only: no payload, callbacks run synchronously in
// registration order.
func (r *ChainRegistry) NotifyPluginsSync() {
	r.syncMu.Lock()
	funcs := make([]func(), len(r.onSyncFuncs))
	copy(funcs, r.onSyncFuncs)
	r.syncMu.Unlock()

	for _, fn := range funcs {
		fn()
	}
}
