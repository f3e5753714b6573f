package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/pkg/domain"
)

// Update is the SSE payload sent to session subscribers after each turn.
type Update struct {
	Diff   *domain.StateDiff `json:"diff,omitempty"`
	Events []domain.Event    `json:"events,omitempty"`
}

// StreamManager handles active SSE connections
type StreamManager struct {
	logger      *slog.Logger
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		logger:      logger,
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	subs, ok := sm.subscribers[sessionID]
	if !ok {
		return
	}
	sm.logger.Debug("broadcasting", "session_id", sessionID, "subscribers", len(subs), "payload_size", len(msg))
	for ch := range subs {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE client buffer full, dropping message", "session_id", sessionID)
		}
	}
}

// Observe is a session.Observer that broadcasts each turn as an Update.
func (sm *StreamManager) Observe(ctx context.Context, before, after *domain.State, out []domain.Event) {
	update := Update{Diff: domain.Diff(before, after), Events: out}
	if update.Diff == nil && len(out) == 0 {
		return
	}
	data, err := json.Marshal(update)
	if err != nil {
		sm.logger.Error("failed to encode update", "session_id", after.SessionID, "err", err)
		return
	}
	sm.Broadcast(after.SessionID, string(data))
}

// SubscribeEvents handles GET /events (SSE).
//
// Without a session_id query parameter the client receives source reload
// notices from the engine's Watch. With one it receives an Update per turn
// of that session. The optional watch parameter (comma separated: heads,
// context, actions, events) filters updates down to those touching at
// least one of the named parts.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	if sessionID == "" {
		watcher, ok := s.Engine.(Watcher)
		if !ok {
			http.Error(w, "hot reload not supported by this engine", http.StatusNotImplemented)
			return
		}
		events, err := watcher.Watch(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Watch error: %v", err), http.StatusInternalServerError)
			return
		}
		streamHeaders(w)
		fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: reload\ndata: %s\n\n", event)
				flusher.Flush()
			}
		}
	}

	s.Logger.Info("SSE subscriber connected", "session_id", sessionID)
	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()

	streamHeaders(w)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watchList []string
	if raw := r.URL.Query().Get("watch"); raw != "" {
		watchList = strings.Split(raw, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Info("SSE subscriber disconnected", "session_id", sessionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !wanted(msg, watchList) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func streamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// wanted reports whether msg touches any of the watched parts. Messages
// that do not decode are always delivered.
func wanted(msg string, watchList []string) bool {
	var u Update
	if err := json.Unmarshal([]byte(msg), &u); err != nil {
		return true
	}
	for _, field := range watchList {
		switch strings.TrimSpace(field) {
		case "context":
			if u.Diff != nil && len(u.Diff.Context) > 0 {
				return true
			}
		case "heads":
			if u.Diff != nil && (len(u.Diff.Heads) > 0 || len(u.Diff.Removed) > 0) {
				return true
			}
		case "actions":
			if u.Diff != nil && (len(u.Diff.Requested) > 0 || len(u.Diff.Resolved) > 0) {
				return true
			}
		case "events":
			if len(u.Events) > 0 {
				return true
			}
		}
	}
	return false
}
