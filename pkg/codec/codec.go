// Package codec serializes interpreter State to a self-describing JSON
// document and restores it against a compiled Program.
//
// Head positions are written as (flow name, element index, element kind)
// rather than as raw flow ids, so a State saved under one Program can be
// checked for compatibility before it is resumed under another. Anything
// that does not line up is reported as a *domain.DecodeError.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/guardrail/pkg/domain"
)

// ElementEnd is the element kind recorded for heads that ran past their last element.
const ElementEnd = "end"

type document struct {
	Version      int                       `json:"version"`
	SessionID    string                    `json:"session_id"`
	Seq          uint64                    `json:"seq"`
	NextInstance int                       `json:"next_instance"`
	Turn         int                       `json:"turn"`
	Heads        []head                    `json:"heads"`
	Context      map[string]any            `json:"context"`
	Invocations  []domain.ActionInvocation `json:"invocations"`
}

type head struct {
	InstanceID int               `json:"instance_id"`
	Position   Position          `json:"position"`
	Status     domain.HeadStatus `json:"status"`
	Wait       string            `json:"wait,omitempty"`
	Event      map[string]any    `json:"event,omitempty"`
	Respawn    bool              `json:"respawn,omitempty"`
}

// Position locates a head inside the Program by name.
type Position struct {
	Flow    string `json:"flow"`
	Index   int    `json:"index"`
	Element string `json:"element"`
}

// Encode renders state as JSON. The program resolves flow ids to names.
func Encode(program *domain.Program, state *domain.State) ([]byte, error) {
	if state == nil {
		return nil, errors.New("codec: nil state")
	}
	doc := document{
		Version:      state.Version,
		SessionID:    state.SessionID,
		Seq:          state.Seq,
		NextInstance: state.NextInstance,
		Turn:         state.Turn,
		Heads:        make([]head, 0, len(state.Heads)),
		Context:      state.Context,
		Invocations:  state.Invocations,
	}
	if doc.Context == nil {
		doc.Context = map[string]any{}
	}
	if err := domain.CheckFinite(doc.Context); err != nil {
		return nil, fmt.Errorf("codec: context: %w", err)
	}
	if doc.Invocations == nil {
		doc.Invocations = []domain.ActionInvocation{}
	}
	for _, h := range state.Heads {
		if int(h.FlowID) < 0 || int(h.FlowID) >= len(program.Flows) {
			return nil, fmt.Errorf("codec: head %d references flow id %d outside the program", h.InstanceID, h.FlowID)
		}
		flow := program.Flow(h.FlowID)
		doc.Heads = append(doc.Heads, head{
			InstanceID: h.InstanceID,
			Position:   Position{Flow: flow.Name, Index: h.Position, Element: elementAt(flow, h.Position)},
			Status:     h.Status,
			Wait:       h.Wait,
			Event:      h.Event,
			Respawn:    h.Respawn,
		})
	}
	return json.Marshal(doc)
}

// Decode parses data and validates it against program.
func Decode(program *domain.Program, data []byte) (*domain.State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.DecodeError{Reason: "malformed document", Err: err}
	}
	if doc.Version != domain.StateVersion {
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("unsupported version %d (want %d)", doc.Version, domain.StateVersion)}
	}

	state := &domain.State{
		Version:      doc.Version,
		SessionID:    doc.SessionID,
		Seq:          doc.Seq,
		NextInstance: doc.NextInstance,
		Turn:         doc.Turn,
		Heads:        make([]domain.FlowHead, 0, len(doc.Heads)),
		Context:      doc.Context,
		Invocations:  doc.Invocations,
	}
	if state.Context == nil {
		state.Context = map[string]any{}
	}
	if state.Invocations == nil {
		state.Invocations = []domain.ActionInvocation{}
	}

	seen := map[int]bool{}
	for _, h := range doc.Heads {
		fh, err := resolve(program, h)
		if err != nil {
			return nil, err
		}
		if seen[fh.InstanceID] {
			return nil, &domain.DecodeError{Reason: fmt.Sprintf("duplicate head instance %d", fh.InstanceID)}
		}
		if fh.InstanceID >= state.NextInstance {
			return nil, &domain.DecodeError{Reason: fmt.Sprintf("head instance %d not below next_instance %d", fh.InstanceID, state.NextInstance)}
		}
		seen[fh.InstanceID] = true
		state.Heads = append(state.Heads, fh)
	}

	actions := map[string]bool{}
	for _, inv := range state.Invocations {
		if inv.ActionID == "" {
			return nil, &domain.DecodeError{Reason: "invocation without action id"}
		}
		if actions[inv.ActionID] {
			return nil, &domain.DecodeError{Reason: fmt.Sprintf("duplicate invocation %q", inv.ActionID)}
		}
		if !seen[inv.InstanceID] {
			return nil, &domain.DecodeError{Reason: fmt.Sprintf("invocation %q owned by unknown head %d", inv.ActionID, inv.InstanceID)}
		}
		actions[inv.ActionID] = true
	}
	for _, h := range state.Heads {
		if h.Wait != "" && !actions[h.Wait] {
			return nil, &domain.DecodeError{Reason: fmt.Sprintf("head %d waits on unknown action %q", h.InstanceID, h.Wait)}
		}
	}
	state.SortHeads()
	return state, nil
}

func resolve(program *domain.Program, h head) (domain.FlowHead, error) {
	id, ok := program.Lookup(h.Position.Flow)
	if !ok {
		return domain.FlowHead{}, &domain.DecodeError{
			Reason: fmt.Sprintf("head %d references flow %q which no longer exists", h.InstanceID, h.Position.Flow),
			Err:    domain.ErrUnknownFlow,
		}
	}
	flow := program.Flow(id)
	switch h.Status {
	case domain.HeadWaiting, domain.HeadActive, domain.HeadMatched, domain.HeadStopped, domain.HeadFinished:
	default:
		return domain.FlowHead{}, &domain.DecodeError{Reason: fmt.Sprintf("head %d has unknown status %q", h.InstanceID, h.Status)}
	}
	limit := len(flow.Elements) - 1
	if !h.Status.Live() {
		limit = len(flow.Elements)
	}
	if h.Position.Index < 0 || h.Position.Index > limit {
		return domain.FlowHead{}, &domain.DecodeError{
			Reason: fmt.Sprintf("head %d position %d out of range for flow %q (%d elements)", h.InstanceID, h.Position.Index, flow.Name, len(flow.Elements)),
		}
	}
	if got := elementAt(flow, h.Position.Index); got != h.Position.Element {
		return domain.FlowHead{}, &domain.DecodeError{
			Reason: fmt.Sprintf("head %d expects %q at %s[%d], program has %q", h.InstanceID, h.Position.Element, flow.Name, h.Position.Index, got),
		}
	}
	return domain.FlowHead{
		InstanceID: h.InstanceID,
		FlowID:     id,
		Position:   h.Position.Index,
		Status:     h.Status,
		Wait:       h.Wait,
		Event:      h.Event,
		Respawn:    h.Respawn,
	}, nil
}

func elementAt(flow *domain.FlowDefinition, i int) string {
	if i >= len(flow.Elements) {
		return ElementEnd
	}
	return string(flow.Elements[i].Kind)
}
