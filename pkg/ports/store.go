package ports

import (
	"context"

	"github.com/aretw0/guardrail/pkg/domain"
)

// StateStore defines the interface for persisting encoded execution state.
// The session layer encodes and decodes State, so stores only see bytes.
type StateStore interface {
	// Save persists the encoded state for a given session ID.
	Save(ctx context.Context, sessionID string, data []byte) error

	// Load retrieves the encoded state for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes the state for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of every stored session.
	List(ctx context.Context) ([]string, error)
}

// TranscriptSink receives one entry per processed turn.
type TranscriptSink interface {
	Append(ctx context.Context, turn domain.Turn) error
}
