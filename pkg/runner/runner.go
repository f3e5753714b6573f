package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/session"
	"github.com/google/uuid"
)

// ErrNotRunning is returned by Ask outside of Run, and by Inject on a
// Runner not built with NewRunner.
var ErrNotRunning = errors.New("runner is not running")

// Runner hosts one session: it renders outbound events, performs the side
// effects they request and feeds the outcomes back as inbound events.
//
// Everything except the Dispatcher calls is confined to the goroutine
// executing Run. Action goroutines and timers only ever send on the inbox.
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on Stdin/Stdout.
	Handler IOHandler

	// Interceptor is a middleware for action execution policy.
	// If nil, every action is allowed.
	Interceptor ActionInterceptor

	// Dispatcher executes StartAction requests. If nil, every action fails.
	Dispatcher ports.ActionDispatcher

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// Sessions runs and persists turns. Required.
	Sessions *session.Manager

	SessionID string
	InboxSize int

	inbox       chan domain.Event
	inputs      <-chan inputEvent
	inputClosed bool
	deferred    []domain.Event
	running     map[string]context.CancelFunc
	timers      map[string]*time.Timer
}

type inputEvent struct {
	event domain.Event
	err   error
}

// NewRunner creates a Runner from options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		Logger:    logging.NewNop(),
		InboxSize: DefaultInboxSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.inbox = make(chan domain.Event, r.InboxSize)
	return r
}

// Run opens (or resumes) the session and serves it until input ends and no
// action or timer is outstanding, or until ctx is cancelled. Cancellation is
// not an error.
func (r *Runner) Run(ctx context.Context) error {
	if r.Sessions == nil {
		return errors.New("runner: no session manager or engine configured")
	}
	handler := r.resolveHandler()
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.inbox == nil {
		r.inbox = make(chan domain.Event, max(r.InboxSize, 1))
	}
	r.running = make(map[string]context.CancelFunc)
	r.timers = make(map[string]*time.Timer)
	r.inputClosed = false
	r.deferred = nil
	r.inputs = r.pump(ctx, handler)
	defer r.shutdown()

	out, pending, err := r.open(ctx)
	if err != nil {
		return err
	}

	for {
		immediate, err := r.dispatch(ctx, handler, out)
		if err != nil {
			return r.exit(err)
		}
		pending = append(pending, immediate...)

		if len(pending) == 0 {
			ev, ok, err := r.wait(ctx)
			if err != nil {
				return r.exit(err)
			}
			if !ok {
				r.Logger.Debug("input closed and nothing outstanding, stopping", "session_id", r.SessionID)
				return nil
			}
			pending = append(pending, ev)
		}
		pending = r.drain(pending)

		_, out, err = r.Sessions.Advance(ctx, r.SessionID, pending)
		pending = nil
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !recoverable(err) {
				return fmt.Errorf("advance session %s: %w", r.SessionID, err)
			}
			r.Logger.Warn("turn rejected", "session_id", r.SessionID, "err", err)
			if err := handler.SystemOutput(ctx, fmt.Sprintf("turn rejected: %v", err)); err != nil {
				return err
			}
			out = nil
		}
	}
}

// Inject queues an event from outside the conversation, e.g. a webhook
// delivering a CustomEvent. It blocks while the inbox is full and is safe to
// call from any goroutine once the Runner was built with NewRunner.
func (r *Runner) Inject(ctx context.Context, ev domain.Event) error {
	if r.inbox == nil {
		return ErrNotRunning
	}
	select {
	case r.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ask implements Prompter on top of the runner's own input stream, so it
// can be used by interceptors while Run owns the handler. Non-utterance
// input that arrives meanwhile is kept for the next turn.
func (r *Runner) Ask(ctx context.Context, question string) (string, error) {
	if r.inputs == nil {
		return "", ErrNotRunning
	}
	if r.inputClosed {
		return "", io.EOF
	}
	if err := r.resolveHandler().SystemOutput(ctx, question); err != nil {
		return "", err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-r.inputs:
			if !ok || errors.Is(res.err, io.EOF) {
				r.inputClosed = true
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			if u, ok := res.event.Payload.(domain.UserUtterance); ok {
				return u.Text, nil
			}
			r.deferred = append(r.deferred, res.event)
		}
	}
}

// open loads the session, or starts it when it does not exist. A resumed
// session may still reference actions issued by a previous process. An
// utterance was already shown and completes, a timer is re-armed with its
// full duration, and anything else is failed since it can never complete here.
func (r *Runner) open(ctx context.Context) ([]domain.Event, []domain.Event, error) {
	state, err := r.Sessions.Load(ctx, r.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		r.Logger.Debug("starting session", "session_id", r.SessionID)
		_, out, err := r.Sessions.Start(ctx, r.SessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("start session %s: %w", r.SessionID, err)
		}
		return out, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load session %s: %w", r.SessionID, err)
	}

	r.Logger.Debug("resuming session", "session_id", r.SessionID, "turn", state.Turn, "outstanding", len(state.Invocations))
	var pending []domain.Event
	for _, inv := range state.Invocations {
		switch {
		case inv.Name == domain.ActionUtter:
			pending = append(pending, domain.Event{Payload: domain.ActionFinished{ActionID: inv.ActionID}})
		case inv.Timer:
			secs, _ := inv.Params["seconds"].(float64)
			r.startTimer(ctx, domain.StartTimer{ActionID: inv.ActionID, Duration: time.Duration(secs * float64(time.Second))})
		default:
			pending = append(pending, domain.Event{Payload: domain.ActionFailed{
				ActionID: inv.ActionID,
				Error:    "interrupted: host restarted",
			}})
		}
	}
	return nil, pending, nil
}

// dispatch renders a turn's output and starts the side effects it asks
// for. It returns the events that are known at once: utterances complete
// as soon as they are shown, and started or denied actions report so.
func (r *Runner) dispatch(ctx context.Context, handler IOHandler, out []domain.Event) ([]domain.Event, error) {
	if len(out) == 0 {
		return nil, nil
	}
	if err := handler.Output(ctx, out); err != nil {
		return nil, fmt.Errorf("output error: %w", err)
	}

	var immediate []domain.Event
	for _, ev := range out {
		switch p := ev.Payload.(type) {
		case domain.StartUtterance:
			immediate = append(immediate, domain.Event{Payload: domain.ActionFinished{ActionID: p.ActionID}})
		case domain.StartAction:
			ev, err := r.startAction(ctx, p)
			if err != nil {
				return nil, err
			}
			immediate = append(immediate, ev)
		case domain.StartTimer:
			r.startTimer(ctx, p)
		case domain.CancelAction:
			r.cancel(p.ActionID)
		case domain.FlowError:
			r.Logger.Warn("flow error", "session_id", r.SessionID, "flow", p.Flow, "instance", p.InstanceID, "code", p.Code, "message", p.Message)
		}
	}
	return immediate, nil
}

func (r *Runner) startAction(ctx context.Context, p domain.StartAction) (domain.Event, error) {
	if r.Interceptor != nil {
		allowed, reason, err := r.Interceptor(ctx, p)
		if err != nil {
			return domain.Event{}, fmt.Errorf("action interceptor error: %w", err)
		}
		if !allowed {
			r.Logger.Info("action denied", "session_id", r.SessionID, "action", p.Name, "action_id", p.ActionID, "reason", reason)
			return domain.Event{Payload: domain.ActionFailed{ActionID: p.ActionID, Error: reason}}, nil
		}
	}
	if r.Dispatcher == nil {
		return domain.Event{Payload: domain.ActionFailed{ActionID: p.ActionID, Error: "no action dispatcher configured"}}, nil
	}

	actx, cancel := context.WithCancel(ctx)
	r.running[p.ActionID] = cancel
	inbox := r.inbox
	dispatcher := r.Dispatcher
	logger := r.Logger

	go func() {
		started := time.Now()
		result, err := dispatcher.Invoke(actx, p.Name, p.Params)
		if actx.Err() != nil && ctx.Err() == nil {
			// Cancelled by the flow; the interpreter has already forgotten it.
			logger.Debug("action cancelled", "action", p.Name, "action_id", p.ActionID)
			return
		}
		if err == nil {
			if ferr := domain.CheckFinite(domain.Normalize(result)); ferr != nil {
				err = fmt.Errorf("invalid result: %w", ferr)
			}
		}
		var payload domain.EventPayload
		if err != nil {
			logger.Debug("action failed", "action", p.Name, "action_id", p.ActionID, "err", err, "duration", time.Since(started))
			payload = domain.ActionFailed{ActionID: p.ActionID, Error: err.Error()}
		} else {
			logger.Debug("action finished", "action", p.Name, "action_id", p.ActionID, "duration", time.Since(started))
			payload = domain.ActionFinished{ActionID: p.ActionID, Result: result}
		}
		select {
		case inbox <- domain.Event{Payload: payload}:
		case <-ctx.Done():
		}
	}()

	return domain.Event{Payload: domain.ActionStarted{ActionID: p.ActionID}}, nil
}

func (r *Runner) startTimer(ctx context.Context, p domain.StartTimer) {
	inbox := r.inbox
	r.timers[p.ActionID] = time.AfterFunc(p.Duration, func() {
		select {
		case inbox <- domain.Event{Payload: domain.TimerElapsed{ActionID: p.ActionID}}:
		case <-ctx.Done():
		}
	})
}

// cancel aborts a running action or stops a pending timer.
func (r *Runner) cancel(actionID string) {
	if cancel, ok := r.running[actionID]; ok {
		cancel()
		delete(r.running, actionID)
		return
	}
	if t, ok := r.timers[actionID]; ok {
		t.Stop()
		delete(r.timers, actionID)
	}
}

// settle forgets an action or timer once its terminal event has arrived.
func (r *Runner) settle(ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.ActionFinished:
		r.release(p.ActionID)
	case domain.ActionFailed:
		r.release(p.ActionID)
	case domain.TimerElapsed:
		delete(r.timers, p.ActionID)
	}
}

func (r *Runner) release(actionID string) {
	if cancel, ok := r.running[actionID]; ok {
		cancel()
		delete(r.running, actionID)
	}
}

func (r *Runner) idle() bool {
	return len(r.running) == 0 && len(r.timers) == 0
}

// wait blocks for the next inbound event. ok is false once input has ended
// and nothing is outstanding.
func (r *Runner) wait(ctx context.Context) (domain.Event, bool, error) {
	if len(r.deferred) > 0 {
		ev := r.deferred[0]
		r.deferred = r.deferred[1:]
		return ev, true, nil
	}
	for {
		if r.inputClosed && r.idle() {
			return domain.Event{}, false, nil
		}
		var inputs <-chan inputEvent
		if !r.inputClosed {
			inputs = r.inputs
		}
		select {
		case <-ctx.Done():
			return domain.Event{}, false, ctx.Err()
		case ev := <-r.inbox:
			r.settle(ev)
			return ev, true, nil
		case res, ok := <-inputs:
			if !ok || errors.Is(res.err, io.EOF) {
				r.inputClosed = true
				continue
			}
			if res.err != nil {
				return domain.Event{}, false, fmt.Errorf("input error: %w", res.err)
			}
			return res.event, true, nil
		}
	}
}

// drain appends whatever completions are already waiting, so they share a turn.
func (r *Runner) drain(pending []domain.Event) []domain.Event {
	pending = append(pending, r.deferred...)
	r.deferred = nil
	for {
		select {
		case ev := <-r.inbox:
			r.settle(ev)
			pending = append(pending, ev)
		default:
			return pending
		}
	}
}

// pump reads the handler on its own goroutine. It stops after the first
// error, which is always delivered.
func (r *Runner) pump(ctx context.Context, handler IOHandler) <-chan inputEvent {
	ch := make(chan inputEvent)
	go func() {
		defer close(ch)
		for {
			ev, err := handler.Input(ctx)
			select {
			case ch <- inputEvent{event: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func (r *Runner) shutdown() {
	for id, cancel := range r.running {
		cancel()
		delete(r.running, id)
	}
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.inputs = nil
}

// exit maps loop errors to Run's result. Cancellation is a clean stop.
func (r *Runner) exit(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveHandler ensures a valid IOHandler is set.
func (r *Runner) resolveHandler() IOHandler {
	if r.Handler == nil {
		// Memoize to prevent creating new Pumps on subsequent Run() calls
		r.Handler = NewTextHandler(nil, nil)
	}
	return r.Handler
}

// recoverable reports turn errors the session survives: the state was left
// untouched and the conversation can continue with the next input.
func recoverable(err error) bool {
	var amb *domain.AmbiguousMatchError
	return errors.As(err, &amb) ||
		errors.Is(err, domain.ErrTooManyEvents) ||
		errors.Is(err, domain.ErrNonFinite)
}
