package runtime

import (
	"fmt"
	"sort"

	"github.com/aretw0/guardrail/internal/expression"
	"github.com/aretw0/guardrail/pkg/domain"
)

// candidate is a head whose current match element accepts an event.
type candidate struct {
	head        *domain.FlowHead
	priority    float64
	specificity int
	position    int
	target      int
}

// match offers ev to every head paused at a match element. The best primary
// head consumes it, then every accepting extension head does too. It reports
// whether any head consumed the event.
func (t *turn) match(ev domain.Event) (bool, error) {
	var primary, extensions []candidate
	type failure struct {
		head *domain.FlowHead
		line int
		err  error
	}
	var failures []failure

	for _, h := range t.sortedHeads() {
		if !h.Status.Live() || h.Wait != "" {
			continue
		}
		flow := t.flow(h)
		if h.Position >= len(flow.Elements) {
			continue
		}
		el := &flow.Elements[h.Position]
		target, spec, ok, err := t.accepts(el, h, ev)
		if err != nil {
			failures = append(failures, failure{head: h, line: el.Line, err: err})
			continue
		}
		if !ok {
			continue
		}
		c := candidate{head: h, priority: flow.Priority, specificity: spec, position: h.Position, target: target}
		if flow.IsExtension {
			extensions = append(extensions, c)
		} else {
			primary = append(primary, c)
		}
	}

	for _, f := range failures {
		t.fail(f.head, domain.CodeEvalFailed, fmt.Sprintf("line %d: %v", f.line, f.err))
	}

	rank(primary)
	rank(extensions)

	if len(primary) > 1 && sameRank(primary[0], primary[1]) {
		amb := &domain.AmbiguousMatchError{EventID: ev.ID, Kind: ev.Kind()}
		for _, c := range primary {
			if sameRank(primary[0], c) {
				amb.Instances = append(amb.Instances, c.head.InstanceID)
			}
		}
		return false, amb
	}

	if len(primary) == 0 && len(extensions) == 0 {
		t.in.logger.Debug("event not matched by any flow", "session", t.state.SessionID, "event", ev.ID, "kind", ev.Kind())
		return false, nil
	}
	consumed := false
	if len(primary) > 0 {
		t.consume(primary[0], ev)
		consumed = true
	}
	for _, c := range extensions {
		h := c.head
		if !h.Status.Live() || h.Wait != "" || h.Position != c.position {
			continue
		}
		t.consume(c, ev)
		consumed = true
	}
	return consumed, nil
}

// rank orders candidates by priority, then specificity, then age.
func rank(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		return a.head.InstanceID < b.head.InstanceID
	})
}

// sameRank reports a tie the ranking cannot break. Instance ids are unique
// in a well-formed state, so this only fires on a corrupted head population.
func sameRank(a, b candidate) bool {
	return a.priority == b.priority &&
		a.specificity == b.specificity &&
		a.head.InstanceID == b.head.InstanceID
}

// accepts reports whether el accepts ev, returning the position the head
// moves to and the specificity of the accepting pattern.
func (t *turn) accepts(el *domain.Element, h *domain.FlowHead, ev domain.Event) (target, specificity int, ok bool, err error) {
	switch el.Kind {
	case domain.ElementMatchUserIntent, domain.ElementMatchEvent:
		ok, err = t.patternAccepts(el.Pattern, ev)
		return h.Position + 1, el.Pattern.Specificity(), ok, err
	case domain.ElementWhen:
		for i := range el.Branches {
			br := &el.Branches[i]
			ok, err = t.patternAccepts(&br.Pattern, ev)
			if err != nil {
				return 0, 0, false, err
			}
			if ok {
				return br.Target, br.Pattern.Specificity(), true, nil
			}
		}
	}
	return 0, 0, false, nil
}

func (t *turn) patternAccepts(p *domain.Pattern, ev domain.Event) (bool, error) {
	if p == nil || ev.Kind() != p.Kind {
		return false, nil
	}
	switch pl := ev.Payload.(type) {
	case domain.UserIntentDetected:
		if !p.Wildcard && p.Intent != pl.Intent {
			return false, nil
		}
	case domain.CustomEvent:
		if p.Custom != "" && p.Custom != pl.Name {
			return false, nil
		}
	}
	if p.Predicate == "" {
		return true, nil
	}
	v, err := t.eval(p.Predicate, ev.Payload.Fields())
	if err != nil {
		return false, err
	}
	return expression.Truthy(v), nil
}

// consume advances a matched head past its match element and runs it.
func (t *turn) consume(c candidate, ev domain.Event) {
	h := c.head
	t.transition(h, domain.HeadMatched)
	h.Event = ev.Payload.Fields()
	h.Position = c.target
	t.run(h)
}
