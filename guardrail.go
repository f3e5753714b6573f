package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/guardrail/internal/adapters/file"
	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/pkg/adapters/intent"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
)

// ErrNotWatchable is returned by Watch when the loader cannot report changes.
var ErrNotWatchable = errors.New("loader does not support watching")

// MatcherFactory builds the intent matcher for a freshly compiled program.
// It runs again on every reload so sample-based matchers see new samples.
type MatcherFactory func(program *domain.Program) ports.IntentMatcher

// Engine is the high-level entry point for the guardrail library.
// It compiles the sources of a loader into a Program and serves turns from
// the resulting interpreter. Reload swaps the interpreter atomically; turns
// already running finish against the program they started with.
type Engine struct {
	mu      sync.RWMutex
	interp  *runtime.Interpreter
	program *domain.Program

	loader      ports.SourceLoader
	matcher     MatcherFactory
	catalog     ports.ActionCatalog
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	clock       domain.Clock
	ids         runtime.IDGenerator
	cfg         *runtime.Config
	runtimeOpts []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLoader injects a custom SourceLoader, bypassing the default directory loader.
func WithLoader(l ports.SourceLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithIntentMatcher sets a fixed classifier for raw user utterances.
func WithIntentMatcher(m ports.IntentMatcher) Option {
	return func(e *Engine) {
		e.matcher = func(*domain.Program) ports.IntentMatcher { return m }
	}
}

// WithMatcherFactory derives the classifier from each compiled program.
func WithMatcherFactory(f MatcherFactory) Option {
	return func(e *Engine) {
		e.matcher = f
	}
}

// WithSampleMatching classifies utterances against the samples of the
// program's `define user` blocks, accepting scores of at least threshold.
func WithSampleMatching(threshold float64) Option {
	return WithMatcherFactory(func(p *domain.Program) ports.IntentMatcher {
		return intent.NewSampleMatcher(p.UserMessages, threshold)
	})
}

// WithActionCatalog enables unknown-action detection at run time.
func WithActionCatalog(c ports.ActionCatalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock injects the time source stamped on emitted events.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator injects the id source for emitted events and actions.
func WithIDGenerator(g runtime.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithConfig overrides the per-turn limits.
func WithConfig(cfg runtime.Config) Option {
	return func(e *Engine) {
		e.cfg = &cfg
	}
}

// WithRuntimeOptions passes options straight to the interpreter. They are
// applied last.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, opts...)
	}
}

// New compiles the `.co` sources found under dir and returns a ready Engine.
// dir is ignored when WithLoader is given.
func New(dir string, opts ...Option) (*Engine, error) {
	eng := &Engine{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.loader == nil {
		eng.loader = file.NewLoader(dir)
	}

	if err := eng.Reload(context.Background()); err != nil {
		return nil, err
	}
	return eng, nil
}

// Reload recompiles every source unit and swaps in the new interpreter.
// On error the previous program stays in service.
func (e *Engine) Reload(ctx context.Context) error {
	sources, err := e.loader.Sources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	program, err := compiler.CompileSource(sources)
	if err != nil {
		return err
	}
	interp, err := runtime.New(program, e.interpreterOptions(program)...)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.interp = interp
	e.program = program
	e.mu.Unlock()

	e.logger.Debug("Program loaded", "flows", len(program.Flows), "units", len(sources))
	return nil
}

func (e *Engine) interpreterOptions(program *domain.Program) []runtime.Option {
	opts := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
	}
	if e.matcher != nil {
		if m := e.matcher(program); m != nil {
			opts = append(opts, runtime.WithIntentMatcher(m))
		}
	}
	if e.catalog != nil {
		opts = append(opts, runtime.WithActionCatalog(e.catalog))
	}
	if e.clock != nil {
		opts = append(opts, runtime.WithClock(e.clock))
	}
	if e.ids != nil {
		opts = append(opts, runtime.WithIDGenerator(e.ids))
	}
	if e.cfg != nil {
		opts = append(opts, runtime.WithConfig(*e.cfg))
	}
	return append(opts, e.runtimeOpts...)
}

func (e *Engine) current() *runtime.Interpreter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interp
}

// Start creates the initial State of a session, with every activated flow
// spawned and run up to its first match.
func (e *Engine) Start(ctx context.Context, sessionID string) (*domain.State, []domain.Event, error) {
	return e.current().Start(ctx, sessionID)
}

// Advance processes events in order against state and returns the new State
// and the outbound events the host must act on. state is never mutated.
func (e *Engine) Advance(ctx context.Context, state *domain.State, events []domain.Event) (*domain.State, []domain.Event, error) {
	return e.current().Advance(ctx, state, events)
}

// Program returns the compiled flows currently in service.
func (e *Engine) Program() *domain.Program {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.program
}

// Loader returns the source loader the engine compiles from.
func (e *Engine) Loader() ports.SourceLoader {
	return e.loader
}

// Watch reloads the program whenever the loader reports a change and
// forwards the changed unit name once the new program is in service.
// Failed reloads are logged and the previous program is kept.
// The returned channel is closed when ctx is done.
func (e *Engine) Watch(ctx context.Context) (<-chan string, error) {
	w, ok := e.loader.(ports.Watchable)
	if !ok {
		return nil, ErrNotWatchable
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		for name := range changes {
			if err := e.Reload(ctx); err != nil {
				e.logger.Error("Reload failed, keeping previous program", "unit", name, "err", err)
				continue
			}
			e.logger.Info("Program reloaded", "unit", name)
			select {
			case out <- name:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var (
	_ ports.Engine    = (*Engine)(nil)
	_ ports.Watchable = (*Engine)(nil)
)
