package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/guardrail/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Save persists the encoded state in memory.
func (s *Store) Save(ctx context.Context, sessionID string, state []byte) error {
	// Copy so the caller can reuse its buffer.
	copied := append([]byte(nil), state...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = copied
	return nil
}

// Load retrieves the encoded state from memory.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return append([]byte(nil), state...), nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns active sessions in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Transcript implements ports.TranscriptSink by keeping every turn in memory.
type Transcript struct {
	mu    sync.Mutex
	turns map[string][]domain.Turn
}

// NewTranscript creates an empty in-memory transcript.
func NewTranscript() *Transcript {
	return &Transcript{turns: make(map[string][]domain.Turn)}
}

// Append records a turn.
func (t *Transcript) Append(ctx context.Context, turn domain.Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns[turn.SessionID] = append(t.turns[turn.SessionID], turn)
	return nil
}

// Turns returns the recorded turns of a session.
func (t *Transcript) Turns(sessionID string) []domain.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Turn(nil), t.turns[sessionID]...)
}
