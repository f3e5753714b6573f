package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/guardrail/internal/expression"
	"github.com/aretw0/guardrail/pkg/domain"
)

// spawn creates a new Waiting head for a flow and runs it to its first pause.
func (t *turn) spawn(id domain.FlowID, respawn bool) *domain.FlowHead {
	h := &domain.FlowHead{
		InstanceID: t.state.NextInstance,
		FlowID:     id,
		Status:     domain.HeadWaiting,
		Respawn:    respawn,
	}
	t.state.NextInstance++
	t.heads = append(t.heads, h)
	t.spawned[h.InstanceID] = true
	t.lifecycle(domain.FlowStarted{Flow: t.flow(h).Name, InstanceID: h.InstanceID})
	t.run(h)
	return h
}

// respawn replaces a terminated activated head with a fresh one. A head that
// was spawned and terminated within the same turn without ever pausing is
// not replaced, otherwise the flow would loop forever.
func (t *turn) respawn(h *domain.FlowHead) {
	if !h.Respawn || !t.flow(h).Activated {
		return
	}
	if t.spawned[h.InstanceID] && !t.paused[h.InstanceID] {
		t.in.logger.Debug("not respawning flow that never paused", "flow", t.flow(h).Name, "instance", h.InstanceID)
		return
	}
	t.spawn(h.FlowID, true)
}

// run executes non-matching elements until the head pauses or terminates.
func (t *turn) run(h *domain.FlowHead) {
	flow := t.flow(h)
	for steps := 0; ; steps++ {
		if h.Position >= len(flow.Elements) {
			t.finish(h)
			return
		}
		if steps >= t.in.cfg.MaxStepsPerHead {
			t.fail(h, domain.CodeStepLimit, fmt.Sprintf("exceeded %d steps without pausing", t.in.cfg.MaxStepsPerHead))
			return
		}
		el := &flow.Elements[h.Position]
		switch el.Kind {
		case domain.ElementMatchUserIntent, domain.ElementMatchEvent, domain.ElementWhen:
			t.pause(h)
			return
		case domain.ElementAssign:
			v, err := t.eval(el.Expr, h.Event)
			if err != nil {
				t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: %v", el.Line, err))
				return
			}
			v = domain.Normalize(v)
			if err := domain.CheckFinite(v); err != nil {
				t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: $%s: %v", el.Line, el.Variable, err))
				return
			}
			t.state.Context[el.Variable] = v
			h.Position++
		case domain.ElementIf:
			v, err := t.eval(el.Expr, h.Event)
			if err != nil {
				t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: %v", el.Line, err))
				return
			}
			if expression.Truthy(v) {
				h.Position++
			} else {
				h.Position = el.Target
			}
		case domain.ElementLabel:
			h.Position++
		case domain.ElementGoto:
			h.Position = el.Target
		case domain.ElementStop:
			t.stop(h)
			return
		case domain.ElementRunAction:
			if !t.runAction(h, flow, el) {
				return
			}
		default:
			t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: unknown element kind %q", el.Line, el.Kind))
			return
		}
	}
}

// pause parks a head at a match element or a blocking action.
func (t *turn) pause(h *domain.FlowHead) {
	t.paused[h.InstanceID] = true
	if h.Status == domain.HeadMatched {
		t.transition(h, domain.HeadActive)
	}
}

// runAction issues the action at el. It reports whether the head continues
// running; a blocking action or a failure parks or stops it.
func (t *turn) runAction(h *domain.FlowHead, flow *domain.FlowDefinition, el *domain.Element) bool {
	spec := el.Action
	params, err := t.params(spec, h)
	if err != nil {
		t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: %v", el.Line, err))
		return false
	}
	if !t.known(spec.Name) {
		uerr := &domain.UnknownActionError{Action: spec.Name, Flow: flow.Name, InstanceID: h.InstanceID}
		t.fail(h, domain.CodeUnknownAction, uerr.Error())
		return false
	}

	inv := domain.ActionInvocation{
		ActionID:   t.nextID(),
		Name:       spec.Name,
		Status:     domain.InvocationRequested,
		InstanceID: h.InstanceID,
		Binding:    spec.Binding,
		Blocking:   spec.Wait,
	}

	switch spec.Name {
	case domain.ActionUtter:
		intent, _ := params["intent"].(string)
		text := t.utterance(intent, params)
		if params == nil {
			params = map[string]any{}
		}
		params["text"] = text
		inv.Params = params
		t.emit(domain.StartUtterance{ActionID: inv.ActionID, Intent: intent, Text: text})
	case domain.ActionTimer:
		d, err := timerDuration(params)
		if err != nil {
			t.fail(h, domain.CodeEvalFailed, fmt.Sprintf("line %d: %v", el.Line, err))
			return false
		}
		inv.Params = params
		inv.Timer = true
		t.emit(domain.StartTimer{ActionID: inv.ActionID, Duration: d})
	default:
		inv.Params = params
		t.emit(domain.StartAction{ActionID: inv.ActionID, Name: spec.Name, Params: domain.NormalizeMap(params)})
	}
	t.state.Invocations = append(t.state.Invocations, inv)

	if t.in.hooks.OnActionRequested != nil {
		t.in.hooks.OnActionRequested(t.ctx, &domain.ActionEvent{
			SessionID:  t.state.SessionID,
			ActionID:   inv.ActionID,
			Name:       inv.Name,
			Flow:       flow.Name,
			InstanceID: h.InstanceID,
		})
	}

	if spec.Wait {
		h.Wait = inv.ActionID
		t.pause(h)
		return false
	}
	if spec.Binding != "" {
		t.state.Context[spec.Binding] = inv.ActionID
	}
	h.Position++
	return true
}

func (t *turn) params(spec *domain.ActionSpec, h *domain.FlowHead) (map[string]any, error) {
	if len(spec.Params) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(spec.Params))
	for _, p := range spec.Params {
		v, err := t.eval(p.Expr, h.Event)
		if err != nil {
			return nil, fmt.Errorf("parameter %q of %s: %w", p.Name, spec.Name, err)
		}
		v = domain.Normalize(v)
		if err := domain.CheckFinite(v); err != nil {
			return nil, fmt.Errorf("parameter %q of %s: %w", p.Name, spec.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func (t *turn) known(name string) bool {
	if name == domain.ActionUtter || name == domain.ActionTimer || t.in.catalog == nil {
		return true
	}
	return t.in.catalog.Has(name)
}

// utterance renders the text of a bot message. Explicit text wins; otherwise
// a sample of the named bot message is chosen, falling back to the intent name.
func (t *turn) utterance(intent string, params map[string]any) string {
	text, ok := params["text"].(string)
	if !ok {
		if samples := t.in.program.BotMessages[intent]; len(samples) > 0 {
			text = t.in.choose(samples, t.state.Seq)
		} else {
			text = intent
		}
	}
	return expression.Interpolate(text, t.state.Context)
}

func timerDuration(params map[string]any) (time.Duration, error) {
	secs, ok := params["seconds"].(float64)
	if !ok || secs < 0 {
		return 0, errors.New("timer seconds must be a non-negative number")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// route delivers a correlated action event to the head that issued the action.
func (t *turn) route(ev domain.Event, p domain.Correlated) error {
	id := p.CorrelationID()
	inv := t.state.Invocation(id)
	if inv == nil {
		t.in.logger.Debug("dropping event for unknown action", "session", t.state.SessionID, "action", id, "kind", ev.Kind())
		return nil
	}
	owner := t.head(inv.InstanceID)
	if owner == nil || !owner.Status.Live() {
		t.state.RemoveInvocation(id)
		t.in.logger.Debug("dropping event for orphaned action", "session", t.state.SessionID, "action", id)
		return nil
	}

	switch ev.Payload.(type) {
	case domain.ActionStarted:
		inv.Status = domain.InvocationStarted
		_, err := t.match(ev)
		return err
	case domain.ActionUpdated:
		_, err := t.match(ev)
		return err
	}

	resolved := *inv
	_, failed := ev.Payload.(domain.ActionFailed)
	if failed {
		resolved.Status = domain.InvocationFailed
	} else {
		resolved.Status = domain.InvocationFinished
	}
	t.state.RemoveInvocation(id)
	if t.in.hooks.OnActionResolved != nil {
		t.in.hooks.OnActionResolved(t.ctx, &domain.ActionEvent{
			SessionID:  t.state.SessionID,
			ActionID:   resolved.ActionID,
			Name:       resolved.Name,
			Flow:       t.flow(owner).Name,
			InstanceID: owner.InstanceID,
			Failed:     failed,
		})
	}

	if resolved.Blocking && owner.Wait == id {
		t.resume(owner, &resolved, ev)
		return nil
	}
	consumed, err := t.match(ev)
	if err != nil {
		return err
	}
	// A started action that fails with no flow waiting for the failure
	// takes its owner down, as a blocking one would.
	if failed && !consumed && owner.Status.Live() {
		ferr := &domain.ActionFailedError{
			ActionID:   resolved.ActionID,
			Action:     resolved.Name,
			Flow:       t.flow(owner).Name,
			InstanceID: owner.InstanceID,
			Message:    ev.Payload.(domain.ActionFailed).Error,
		}
		t.fail(owner, domain.CodeActionFailed, ferr.Error())
	}
	return nil
}

// resume continues a head that was blocked on inv. The resolving event is fed
// to the next element when that element accepts it; an uncaught failure
// stops the head.
func (t *turn) resume(h *domain.FlowHead, inv *domain.ActionInvocation, ev domain.Event) {
	flow := t.flow(h)
	h.Wait = ""
	t.transition(h, domain.HeadMatched)
	h.Event = ev.Payload.Fields()

	switch p := ev.Payload.(type) {
	case domain.ActionFailed:
		if target, ok := t.catches(flow, h, h.Position+1, ev); ok {
			h.Position = target
			t.run(h)
			return
		}
		ferr := &domain.ActionFailedError{
			ActionID:   inv.ActionID,
			Action:     inv.Name,
			Flow:       flow.Name,
			InstanceID: h.InstanceID,
			Message:    p.Error,
		}
		t.fail(h, domain.CodeActionFailed, ferr.Error())
		return
	case domain.ActionFinished:
		if inv.Binding != "" {
			t.state.Context[inv.Binding] = domain.Normalize(p.Result)
		}
	}

	h.Position++
	if target, ok := t.catches(flow, h, h.Position, ev); ok {
		h.Position = target
	}
	t.run(h)
}

// catches reports whether the element at pos accepts ev, and where it leads.
func (t *turn) catches(flow *domain.FlowDefinition, h *domain.FlowHead, pos int, ev domain.Event) (int, bool) {
	if pos >= len(flow.Elements) {
		return 0, false
	}
	el := &flow.Elements[pos]
	if !el.IsMatch() {
		return 0, false
	}
	saved := h.Position
	h.Position = pos
	target, _, ok, err := t.accepts(el, h, ev)
	h.Position = saved
	if err != nil {
		t.in.logger.Debug("predicate failed while resuming", "flow", flow.Name, "line", el.Line, "error", err)
		return 0, false
	}
	return target, ok
}

// stop cancels every action the head still owns and terminates it.
func (t *turn) stop(h *domain.FlowHead) {
	t.cancelOwned(h)
	h.Wait = ""
	t.transition(h, domain.HeadStopped)
	t.lifecycle(domain.FlowStopped{Flow: t.flow(h).Name, InstanceID: h.InstanceID})
	t.respawn(h)
}

// finish terminates a head that ran past its last element. Started actions
// and timers it still owns are cancelled.
func (t *turn) finish(h *domain.FlowHead) {
	t.cancelOwned(h)
	h.Wait = ""
	t.transition(h, domain.HeadFinished)
	t.lifecycle(domain.FlowFinished{Flow: t.flow(h).Name, InstanceID: h.InstanceID})
	t.respawn(h)
}

// fail surfaces a FlowError for the head and stops it.
func (t *turn) fail(h *domain.FlowHead, code, msg string) {
	t.flowError(t.flow(h).Name, h.InstanceID, code, msg)
	t.stop(h)
}

func (t *turn) cancelOwned(h *domain.FlowHead) {
	for _, id := range t.state.InvocationsOf(h.InstanceID) {
		inv := t.state.Invocation(id)
		t.emit(domain.CancelAction{ActionID: id, Name: inv.Name})
		t.state.RemoveInvocation(id)
	}
}
