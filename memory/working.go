package memory

import (
	"sync"
	"time"

	"github.com/cheshire-cat-ai/gocat/core"
)

// WorkingMemory is the mutable session state of one user: the current
// request's scratch data, the three recall result slots, the
// notification queue, and the conversation history.
//
// Only the pipeline (and collaborators it explicitly invokes) mutates a
// WorkingMemory during that user's in-flight request; the pipeline
// serializes same-user requests by holding the request lock for the
// whole Handle call.
type WorkingMemory struct {
	UserID string

	// CurrentMessage is the message being processed, after hook
	// rewriting and oversize segmentation. Overwritten per request.
	CurrentMessage core.UserMessage

	// RecallQuery and RecallEmbedding are the (possibly rewritten)
	// recall query text and its vector. Overwritten per request.
	RecallQuery     string
	RecallEmbedding []float32

	// Recall result slots, overwritten by each recall run.
	EpisodicMemories    []core.MemoryHit
	DeclarativeMemories []core.MemoryHit
	ProceduralMemories  []core.MemoryHit

	// History is the append-only conversation log. Never reordered.
	History []core.Turn

	// Scratch holds transient keyed values hooks write within one
	// request. Not persisted across requests.
	Scratch map[string]any

	// WSMessages is this user's outbound notification queue.
	WSMessages *core.MessageQueue

	mu sync.Mutex
}

// NewWorkingMemory creates an empty working memory for a user.
func NewWorkingMemory(userID string) *WorkingMemory {
	return &WorkingMemory{
		UserID:     userID,
		Scratch:    make(map[string]any),
		WSMessages: core.NewMessageQueue(),
	}
}

// Lock acquires the per-user request lock. The pipeline holds it for
// the duration of a Handle call so concurrent same-user requests are
// serialized rather than racing on the same fields.
func (wm *WorkingMemory) Lock() { wm.mu.Lock() }

// Unlock releases the per-user request lock.
func (wm *WorkingMemory) Unlock() { wm.mu.Unlock() }

// BeginRequest resets the request-scoped fields for a new message.
// History and the notification queue survive across requests.
func (wm *WorkingMemory) BeginRequest(msg core.UserMessage) {
	wm.CurrentMessage = msg
	wm.RecallQuery = ""
	wm.RecallEmbedding = nil
	wm.EpisodicMemories = nil
	wm.DeclarativeMemories = nil
	wm.ProceduralMemories = nil
	wm.Scratch = make(map[string]any)
}

// UpdateHistory appends one turn to the conversation history.
func (wm *WorkingMemory) UpdateHistory(who, message string, why *core.Why) {
	wm.History = append(wm.History, core.Turn{
		Who:     who,
		Message: message,
		Why:     why,
		When:    time.Now(),
	})
}

// Post enqueues an out-of-band message of the given kind onto this
// user's notification queue. The enqueue never blocks. An unrecognized
// kind is rejected rather than silently defaulted.
func (wm *WorkingMemory) Post(content string, kind core.MessageKind) error {
	m, err := core.NewWSMessage(content, kind)
	if err != nil {
		return err
	}
	wm.WSMessages.Push(m)
	return nil
}

// WorkingMemoryList keeps exactly one WorkingMemory per user id.
// Lookups are create-if-absent and safe for concurrent use; two
// concurrent lookups for the same id return the same instance.
type WorkingMemoryList struct {
	mu    sync.RWMutex
	users map[string]*WorkingMemory
}

// NewWorkingMemoryList creates an empty registry.
func NewWorkingMemoryList() *WorkingMemoryList {
	return &WorkingMemoryList{users: make(map[string]*WorkingMemory)}
}

// GetOrCreate returns the working memory for userID, creating and
// registering an empty one on first sight. An empty id maps to the
// shared default user.
func (l *WorkingMemoryList) GetOrCreate(userID string) *WorkingMemory {
	if userID == "" {
		userID = core.DefaultUserID
	}

	l.mu.RLock()
	wm, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return wm
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if wm, ok := l.users[userID]; ok {
		return wm
	}

	wm = NewWorkingMemory(userID)
	l.users[userID] = wm
	return wm
}

// Len returns the number of registered users.
func (l *WorkingMemoryList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}
