package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

const clientBuffer = 32

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSEHub fans dashboard events out to every connected client
type SSEHub struct {
	clients    map[chan SSEEvent]bool
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	done       chan struct{}
	mu         sync.RWMutex
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[chan SSEEvent]bool),
		broadcast:  make(chan SSEEvent),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled
func (h *SSEHub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			close(client)
			delete(h.clients, client)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// slow client, drop it
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all clients. It is a no-op once the hub stopped.
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

// Clients returns the number of connected clients
func (h *SSEHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SSEHub) subscribe() (chan SSEEvent, bool) {
	client := make(chan SSEEvent, clientBuffer)
	select {
	case h.register <- client:
		return client, true
	case <-h.done:
		return nil, false
	}
}

func (h *SSEHub) unsubscribe(client chan SSEEvent) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeSSE(w http.ResponseWriter, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	return err
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		client, ok := s.sseHub.subscribe()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		defer s.sseHub.unsubscribe(client)

		setStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				if err := writeSSE(w, event.Type, event); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// runStreamHandler attaches the request as the single subscriber of a
// run's events. The stream closes after the end event, or when a newer
// subscriber for the same run replaces this one.
func (s *Server) runStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		runID := r.PathValue("runId")
		sub := s.events.Subscribe(runID)
		defer sub.Close()

		setStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			ev, ok := sub.Next(r.Context())
			if !ok {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type == domain.EventEnd {
				return
			}
		}
	}
}
