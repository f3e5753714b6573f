package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/guardrail/internal/expression"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
)

// turn holds the working set of a single Start or Advance call. Heads are
// held by pointer for the duration of the turn and written back on commit.
type turn struct {
	in    *Interpreter
	ctx   context.Context
	state *domain.State
	heads []*domain.FlowHead
	now   time.Time

	out       []domain.Event
	queue     []domain.Event
	processed int

	// spawned and paused drive the respawn guard: a head spawned in this
	// turn that terminates without ever pausing is not replaced.
	spawned map[int]bool
	paused  map[int]bool
}

func (in *Interpreter) newTurn(ctx context.Context, state *domain.State) *turn {
	t := &turn{
		in:      in,
		ctx:     ctx,
		state:   state,
		now:     in.clock(),
		spawned: map[int]bool{},
		paused:  map[int]bool{},
	}
	t.heads = make([]*domain.FlowHead, len(state.Heads))
	for i := range state.Heads {
		h := state.Heads[i]
		t.heads[i] = &h
	}
	return t
}

// commit writes the turn's heads back into the state in instance order.
func (t *turn) commit() {
	heads := make([]domain.FlowHead, len(t.heads))
	for i, h := range t.heads {
		heads[i] = *h
	}
	t.state.Heads = heads
	t.state.SortHeads()
}

func (t *turn) nextID() string {
	t.state.Seq++
	return t.in.ids(t.state.SessionID, t.state.Seq)
}

func (t *turn) newEvent(p domain.EventPayload) domain.Event {
	return domain.Event{ID: t.nextID(), Time: t.now, Payload: p}
}

// emit appends an outbound event.
func (t *turn) emit(p domain.EventPayload) domain.Event {
	ev := t.newEvent(p)
	t.out = append(t.out, ev)
	return ev
}

// lifecycle emits a flow lifecycle event and queues it so other flows may
// react to it within the same turn.
func (t *turn) lifecycle(p domain.EventPayload) {
	t.enqueue(t.emit(p))
}

func (t *turn) enqueue(ev domain.Event) {
	t.queue = append(t.queue, ev)
}

// drain processes queued events in FIFO order until the queue is empty.
func (t *turn) drain() error {
	for len(t.queue) > 0 {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		ev := t.queue[0]
		t.queue = t.queue[1:]
		t.processed++
		if t.processed > t.in.cfg.MaxEventsPerTurn {
			return fmt.Errorf("%w: limit is %d", domain.ErrTooManyEvents, t.in.cfg.MaxEventsPerTurn)
		}
		if err := t.process(ev); err != nil {
			return err
		}
	}
	return nil
}

func (t *turn) process(ev domain.Event) error {
	if t.in.hooks.OnEvent != nil {
		t.in.hooks.OnEvent(t.ctx, t.state.SessionID, ev)
	}
	t.in.logger.Debug("processing event", "session", t.state.SessionID, "event", ev.ID, "kind", ev.Kind())

	switch p := ev.Payload.(type) {
	case domain.UserUtterance:
		if _, err := t.match(ev); err != nil {
			return err
		}
		t.detectIntent(p)
		return nil
	case domain.StartFlow:
		id, ok := t.in.program.Lookup(p.Flow)
		if !ok {
			t.flowError(p.Flow, 0, domain.CodeUnknownFlow, fmt.Sprintf("%v: %q", domain.ErrUnknownFlow, p.Flow))
			return nil
		}
		t.spawn(id, false)
		return nil
	case domain.StopFlow:
		id, ok := t.in.program.Lookup(p.Flow)
		if !ok {
			t.flowError(p.Flow, 0, domain.CodeUnknownFlow, fmt.Sprintf("%v: %q", domain.ErrUnknownFlow, p.Flow))
			return nil
		}
		// Snapshot: stopping may respawn heads of the same flow.
		live := make([]*domain.FlowHead, 0, len(t.heads))
		for _, h := range t.heads {
			if h.FlowID == id && h.Status.Live() {
				live = append(live, h)
			}
		}
		for _, h := range live {
			t.stop(h)
		}
		return nil
	case domain.Correlated:
		return t.route(ev, p)
	}
	_, err := t.match(ev)
	return err
}

// detectIntent classifies a raw utterance and queues the resulting
// UserIntentDetected or UnknownIntent.
func (t *turn) detectIntent(u domain.UserUtterance) {
	m, ok, err := t.classify(u.Text)
	if err != nil {
		t.in.logger.Warn("intent matcher failed", "session", t.state.SessionID, "error", err)
		ok = false
	}
	if ok && domain.CheckFinite(m.Confidence) != nil {
		t.in.logger.Warn("intent matcher returned a non-finite confidence", "session", t.state.SessionID, "intent", m.Intent)
		ok = false
	}
	if ok && m.Confidence < t.in.cfg.MinIntentConfidence {
		t.in.logger.Debug("intent below confidence threshold", "intent", m.Intent, "confidence", m.Confidence)
		ok = false
	}
	if !ok {
		t.enqueue(t.newEvent(domain.UnknownIntent{Text: u.Text}))
		return
	}
	t.enqueue(t.newEvent(domain.UserIntentDetected{Intent: m.Intent, Confidence: m.Confidence, Text: u.Text}))
}

// classify defers to the configured IntentMatcher, falling back to a
// case-insensitive comparison against intent names and their samples.
func (t *turn) classify(text string) (ports.IntentMatch, bool, error) {
	if t.in.matcher != nil {
		return t.in.matcher.MatchIntent(t.ctx, text, t.in.candidates)
	}
	norm := strings.ToLower(strings.TrimSpace(text))
	for _, name := range t.in.candidates {
		if strings.ToLower(name) == norm {
			return ports.IntentMatch{Intent: name, Confidence: 1}, true, nil
		}
		for _, sample := range t.in.program.UserMessages[name] {
			if strings.ToLower(strings.TrimSpace(sample)) == norm {
				return ports.IntentMatch{Intent: name, Confidence: 1}, true, nil
			}
		}
	}
	return ports.IntentMatch{}, false, nil
}

func (t *turn) head(instanceID int) *domain.FlowHead {
	for _, h := range t.heads {
		if h.InstanceID == instanceID {
			return h
		}
	}
	return nil
}

func (t *turn) flow(h *domain.FlowHead) *domain.FlowDefinition {
	return t.in.program.Flow(h.FlowID)
}

// eval runs a precompiled expression against the session context, with the
// given fields bound as the event variable.
func (t *turn) eval(src string, event map[string]any) (any, error) {
	prog, ok := t.in.exprs[src]
	if !ok {
		var err error
		if prog, err = expression.Compile(src); err != nil {
			return nil, err
		}
	}
	env := make(map[string]any, len(t.state.Context)+1)
	for k, v := range t.state.Context {
		env[k] = v
	}
	if event == nil {
		event = map[string]any{}
	}
	env[expression.EventVar] = event
	return expression.Run(prog, env)
}

func (t *turn) transition(h *domain.FlowHead, to domain.HeadStatus) {
	from := h.Status
	if from == to {
		return
	}
	h.Status = to
	if t.in.hooks.OnHeadTransition != nil {
		t.in.hooks.OnHeadTransition(t.ctx, &domain.HeadEvent{
			SessionID:  t.state.SessionID,
			Flow:       t.flow(h).Name,
			InstanceID: h.InstanceID,
			From:       from,
			To:         to,
			Position:   h.Position,
		})
	}
}

func (t *turn) flowError(flow string, instanceID int, code, msg string) {
	fe := domain.FlowError{Flow: flow, InstanceID: instanceID, Code: code, Message: msg}
	t.emit(fe)
	t.in.logger.Debug("flow error", "session", t.state.SessionID, "flow", flow, "instance", instanceID, "code", code, "message", msg)
	if t.in.hooks.OnFlowError != nil {
		t.in.hooks.OnFlowError(t.ctx, t.state.SessionID, fe)
	}
}

// sortedHeads returns the turn's heads in instance order.
func (t *turn) sortedHeads() []*domain.FlowHead {
	out := append([]*domain.FlowHead(nil), t.heads...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}
