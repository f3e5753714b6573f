package ports

import (
	"context"

	"github.com/aretw0/guardrail/pkg/domain"
)

// Engine is the turn-based core consumed by adapters (HTTP, MCP, session manager).
// It keeps no state of its own between calls.
type Engine interface {
	// Start creates the initial State of a session with activated flows spawned.
	Start(ctx context.Context, sessionID string) (*domain.State, []domain.Event, error)

	// Advance processes an ordered batch of events against a State.
	Advance(ctx context.Context, state *domain.State, events []domain.Event) (*domain.State, []domain.Event, error)

	// Program returns the compiled flows for introspection and decoding.
	Program() *domain.Program
}
