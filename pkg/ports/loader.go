package ports

import "context"

// SourceLoader provides the dialog-language source units to compile.
// Keys are unit names used in error messages (usually file paths).
type SourceLoader interface {
	Sources(ctx context.Context) (map[string][]byte, error)
}

// Watchable defines an interface for loaders that can notify about backend changes.
// This is typically used for hot-reload or dev-mode functionality.
type Watchable interface {
	// Watch returns a channel that receives the name of each changed source unit.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan string, error)
}
