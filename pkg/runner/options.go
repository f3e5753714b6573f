package runner

import (
	"log/slog"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/session"
)

// DefaultInboxSize is the default number of completions buffered between
// action goroutines and the event loop.
const DefaultInboxSize = 64

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithSessions runs turns through an existing session manager, which owns
// persistence and locking.
func WithSessions(m *session.Manager) Option {
	return func(r *Runner) {
		r.Sessions = m
	}
}

// WithEngine runs turns against engine with an in-memory session store.
func WithEngine(engine ports.Engine) Option {
	return func(r *Runner) {
		r.Sessions = session.NewManager(engine, memory.NewStore())
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithInputHandler configures a custom IOHandler.
func WithInputHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithSessionID sets the session to open or resume. A random id is used
// when empty.
func WithSessionID(id string) Option {
	return func(r *Runner) {
		r.SessionID = id
	}
}

// WithDispatcher configures where StartAction requests are executed.
func WithDispatcher(d ports.ActionDispatcher) Option {
	return func(r *Runner) {
		r.Dispatcher = d
	}
}

// WithInterceptor configures the action execution middleware.
func WithInterceptor(interceptor ActionInterceptor) Option {
	return func(r *Runner) {
		r.Interceptor = interceptor
	}
}

// WithInboxSize overrides DefaultInboxSize.
func WithInboxSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.InboxSize = n
		}
	}
}
