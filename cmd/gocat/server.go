package main

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cheshire-cat-ai/gocat/core"
	"github.com/cheshire-cat-ai/gocat/engine"
)

type server struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

func newServer(eng *engine.Engine) *server {
	return &server{
		engine: eng,
		upgrader: websocket.Upgrader{
			// Local frontend; origin checks belong to a reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *server) run(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return http.ListenAndServe(addr, mux)
}

// handleWS serves one user's websocket session: inbound messages go
// through the pipeline and the reply is written back; in parallel the
// user's notification queue (chat tokens, upload notices, errors) is
// drained onto the same socket.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	userID := r.URL.Query().Get("user_id")
	wm := s.engine.WorkingMemories().GetOrCreate(userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Gorilla allows a single concurrent writer.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	go func() {
		for {
			m, err := wm.WSMessages.Pop(ctx)
			if err != nil {
				return
			}
			if err := writeJSON(m); err != nil {
				log.Printf("[WS] Notification write failed: %v", err)
				return
			}
		}
	}()

	for {
		var msg core.UserMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("[WS] Connection closed for %q: %v", wm.UserID, err)
			return
		}
		msg.UserID = wm.UserID

		out, err := s.engine.Handle(ctx, msg)
		if err != nil {
			log.Printf("[WS] Pipeline error: %v", err)
			errMsg, _ := core.NewWSMessage(err.Error(), core.KindError)
			if writeErr := writeJSON(errMsg); writeErr != nil {
				return
			}
			continue
		}
		if err := writeJSON(out); err != nil {
			return
		}
	}
}
