package core

import (
	"context"
	"fmt"
	"sync"
)

// MessageKind classifies an out-of-band message on a user's
// notification queue.
type MessageKind string

const (
	KindNotification MessageKind = "notification"
	KindChat         MessageKind = "chat"
	KindError        MessageKind = "error"
	KindChatToken    MessageKind = "chat_token"
)

// ValidKind reports whether k is one of the defined message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindNotification, KindChat, KindError, KindChatToken:
		return true
	}
	return false
}

// WSMessage is one outbound message for the transport layer. Error
// messages carry Name and Description instead of Content.
type WSMessage struct {
	Type        MessageKind `json:"type"`
	Content     string      `json:"content,omitempty"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
}

// NewWSMessage builds a WSMessage of the given kind. An unrecognized
// kind is a programming error and fails loudly.
func NewWSMessage(content string, kind MessageKind) (WSMessage, error) {
	if !ValidKind(kind) {
		return WSMessage{}, fmt.Errorf("message type %q is not valid (valid types: %s, %s, %s, %s)",
			kind, KindNotification, KindChat, KindError, KindChatToken)
	}
	if kind == KindError {
		return WSMessage{
			Type:        kind,
			Name:        "GenericError",
			Description: content,
		}, nil
	}
	return WSMessage{Type: kind, Content: content}, nil
}

// MessageQueue is an unbounded FIFO of outbound messages. Producers
// never block; consumption order matches enqueue order. It is safe for
// many producers and a single consumer, which is how the transport
// layer uses it.
type MessageQueue struct {
	mu    sync.Mutex
	items []WSMessage
	wake  chan struct{}
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{wake: make(chan struct{}, 1)}
}

// Push enqueues a message. Never blocks.
func (q *MessageQueue) Push(m WSMessage) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryPop dequeues the oldest message if one is available.
func (q *MessageQueue) TryPop() (WSMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return WSMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// Pop dequeues the oldest message, blocking until one is available or
// the context is done.
func (q *MessageQueue) Pop(ctx context.Context) (WSMessage, error) {
	for {
		if m, ok := q.TryPop(); ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return WSMessage{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
