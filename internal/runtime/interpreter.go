// Package runtime implements the flow interpreter: the event-matching state
// machine that advances a population of flow heads one turn at a time.
//
// The Interpreter is immutable after New and is shared by every session. A
// turn takes a State and an ordered batch of events and returns a new State
// plus the outbound events the host must act on. Turns never mutate their
// input State.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/guardrail/internal/expression"
	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/expr-lang/expr/vm"
)

// Config bounds the work a single turn may do.
type Config struct {
	// MaxEventsPerTurn caps inbound plus derived events processed by one Advance call.
	MaxEventsPerTurn int
	// MaxStepsPerHead caps synchronous steps a head may take before pausing.
	MaxStepsPerHead int
	// MinIntentConfidence rejects intent matches scored below it.
	MinIntentConfidence float64
}

// DefaultConfig returns the limits used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerTurn:    1000,
		MaxStepsPerHead:     10000,
		MinIntentConfidence: 0,
	}
}

// IDGenerator derives an event or action id from the session and a sequence
// number. It must be a pure function for turns to be reproducible.
type IDGenerator func(sessionID string, seq uint64) string

// SampleChooser picks the text a bot message is rendered as.
type SampleChooser func(samples []string, seed uint64) string

// Interpreter runs compiled flows against event batches.
type Interpreter struct {
	program    *domain.Program
	exprs      map[string]*vm.Program
	candidates []string

	matcher ports.IntentMatcher
	catalog ports.ActionCatalog
	clock   domain.Clock
	ids     IDGenerator
	choose  SampleChooser
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
	cfg     Config
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithIntentMatcher sets the classifier used for raw user utterances.
func WithIntentMatcher(m ports.IntentMatcher) Option {
	return func(i *Interpreter) { i.matcher = m }
}

// WithActionCatalog enables unknown-action detection.
func WithActionCatalog(c ports.ActionCatalog) Option {
	return func(i *Interpreter) { i.catalog = c }
}

// WithClock injects the time source stamped on emitted events.
func WithClock(c domain.Clock) Option {
	return func(i *Interpreter) { i.clock = c }
}

// WithIDGenerator injects the id source for emitted events and actions.
func WithIDGenerator(g IDGenerator) Option {
	return func(i *Interpreter) { i.ids = g }
}

// WithSampleChooser injects how bot message samples are picked.
func WithSampleChooser(c SampleChooser) Option {
	return func(i *Interpreter) { i.choose = c }
}

// WithLogger sets the logger. The interpreter logs at debug level only.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// WithLifecycleHooks sets the metrics sink.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(i *Interpreter) { i.hooks = h }
}

// WithConfig overrides the turn limits. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(i *Interpreter) {
		if cfg.MaxEventsPerTurn > 0 {
			i.cfg.MaxEventsPerTurn = cfg.MaxEventsPerTurn
		}
		if cfg.MaxStepsPerHead > 0 {
			i.cfg.MaxStepsPerHead = cfg.MaxStepsPerHead
		}
		if cfg.MinIntentConfidence > 0 {
			i.cfg.MinIntentConfidence = cfg.MinIntentConfidence
		}
	}
}

// New compiles every expression in program and returns a ready Interpreter.
func New(program *domain.Program, opts ...Option) (*Interpreter, error) {
	if program == nil {
		return nil, fmt.Errorf("runtime: nil program")
	}
	in := &Interpreter{
		program: program,
		exprs:   map[string]*vm.Program{},
		clock:   time.Now,
		ids:     DefaultIDGenerator(nil),
		choose:  DefaultSampleChooser,
		logger:  logging.NewNop(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(in)
	}

	intents := map[string]bool{}
	for name := range program.UserMessages {
		intents[name] = true
	}
	for fi := range program.Flows {
		flow := &program.Flows[fi]
		for ei := range flow.Elements {
			el := &flow.Elements[ei]
			if err := in.compileElement(flow, el); err != nil {
				return nil, err
			}
			for _, p := range patternsOf(el) {
				if p.Kind == domain.KindUserIntentDetected && p.Intent != "" {
					intents[p.Intent] = true
				}
			}
		}
	}
	for name := range intents {
		in.candidates = append(in.candidates, name)
	}
	sort.Strings(in.candidates)
	return in, nil
}

func (in *Interpreter) compileElement(flow *domain.FlowDefinition, el *domain.Element) error {
	var sources []string
	switch el.Kind {
	case domain.ElementAssign, domain.ElementIf:
		sources = append(sources, el.Expr)
	case domain.ElementRunAction:
		for _, p := range el.Action.Params {
			sources = append(sources, p.Expr)
		}
	}
	for _, p := range patternsOf(el) {
		if p.Predicate != "" {
			sources = append(sources, p.Predicate)
		}
	}
	for _, src := range sources {
		if _, ok := in.exprs[src]; ok {
			continue
		}
		prog, err := expression.Compile(src)
		if err != nil {
			return &domain.CompileError{Source: flow.Source, Line: el.Line, Flow: flow.Name,
				Message: fmt.Sprintf("invalid expression %q: %v", src, err)}
		}
		in.exprs[src] = prog
	}
	return nil
}

func patternsOf(el *domain.Element) []*domain.Pattern {
	switch el.Kind {
	case domain.ElementMatchUserIntent, domain.ElementMatchEvent:
		if el.Pattern != nil {
			return []*domain.Pattern{el.Pattern}
		}
	case domain.ElementWhen:
		out := make([]*domain.Pattern, len(el.Branches))
		for i := range el.Branches {
			out[i] = &el.Branches[i].Pattern
		}
		return out
	}
	return nil
}

// Program returns the compiled flows the interpreter runs.
func (in *Interpreter) Program() *domain.Program {
	return in.program
}

// Start creates a new session State, spawning every activated flow in source
// order and running each to its first pause.
func (in *Interpreter) Start(ctx context.Context, sessionID string) (*domain.State, []domain.Event, error) {
	started := in.clock()
	state := domain.NewState(sessionID)
	t := in.newTurn(ctx, state)

	for id := range in.program.Flows {
		if in.program.Flows[id].Activated {
			t.spawn(domain.FlowID(id), true)
		}
	}
	if err := t.drain(); err != nil {
		in.reportTurn(ctx, state, 0, nil, started, err)
		return nil, nil, err
	}
	t.commit()
	in.reportTurn(ctx, state, 0, t.out, started, nil)
	return state, t.out, nil
}

// Advance processes events strictly in order against a copy of state.
// On error the input state is untouched and no events are returned.
func (in *Interpreter) Advance(ctx context.Context, state *domain.State, events []domain.Event) (*domain.State, []domain.Event, error) {
	if state == nil {
		return nil, nil, fmt.Errorf("runtime: nil state")
	}
	started := in.clock()
	next := state.Clone()
	next.Turn++
	pruneTerminated(next)

	t := in.newTurn(ctx, next)
	for i, ev := range events {
		if ev.Payload == nil {
			return nil, nil, fmt.Errorf("runtime: event %d (%q) has no payload", i, ev.ID)
		}
		if err := domain.CheckFinite(domain.NormalizeMap(ev.Payload.Fields())); err != nil {
			return nil, nil, fmt.Errorf("runtime: event %d (%q): %w", i, ev.ID, err)
		}
		if ev.ID == "" {
			ev.ID = t.nextID()
		}
		if ev.Time.IsZero() {
			ev.Time = t.now
		}
		t.enqueue(ev)
		if err := t.drain(); err != nil {
			in.reportTurn(ctx, next, len(events), nil, started, err)
			return nil, nil, err
		}
	}
	t.commit()
	in.reportTurn(ctx, next, len(events), t.out, started, nil)
	return next, t.out, nil
}

func (in *Interpreter) reportTurn(ctx context.Context, s *domain.State, inbound int, out []domain.Event, started time.Time, err error) {
	if in.hooks.OnTurn == nil {
		return
	}
	in.hooks.OnTurn(ctx, &domain.TurnEvent{
		SessionID: s.SessionID,
		Turn:      s.Turn,
		Inbound:   inbound,
		Outbound:  len(out),
		Heads:     len(s.Heads),
		Duration:  in.clock().Sub(started),
		Err:       err,
	})
}

// pruneTerminated drops heads that finished or stopped in an earlier turn,
// along with any invocations they left outstanding.
func pruneTerminated(s *domain.State) {
	live := s.Heads[:0]
	owners := map[int]bool{}
	for _, h := range s.Heads {
		if h.Status.Live() {
			live = append(live, h)
			owners[h.InstanceID] = true
		}
	}
	s.Heads = live

	invs := s.Invocations[:0]
	for _, inv := range s.Invocations {
		if owners[inv.InstanceID] {
			invs = append(invs, inv)
		}
	}
	s.Invocations = invs
}
