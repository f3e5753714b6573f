package runner

import (
	"context"
	"encoding/json"

	"github.com/aretw0/guardrail/pkg/codec"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
)

// RichResponse combines the encoded state and the outbound events of one
// turn for rich clients (HTTP, MCP). The outbound events are also split by
// variant so clients that only chat need not inspect envelopes.
type RichResponse struct {
	SessionID  string               `json:"session_id"`
	Turn       int                  `json:"turn"`
	State      json.RawMessage      `json:"state"`
	Events     []domain.Event       `json:"events"`
	Utterances []string             `json:"utterances,omitempty"`
	Actions    []domain.StartAction `json:"actions,omitempty"`
	Timers     []domain.StartTimer  `json:"timers,omitempty"`
	Errors     []domain.FlowError   `json:"errors,omitempty"`
}

// NewRichResponse encodes state against program and classifies out.
func NewRichResponse(program *domain.Program, state *domain.State, out []domain.Event) (*RichResponse, error) {
	data, err := codec.Encode(program, state)
	if err != nil {
		return nil, err
	}
	resp := &RichResponse{
		SessionID: state.SessionID,
		Turn:      state.Turn,
		State:     data,
		Events:    out,
	}
	if resp.Events == nil {
		resp.Events = []domain.Event{}
	}
	for _, ev := range out {
		switch p := ev.Payload.(type) {
		case domain.StartUtterance:
			resp.Utterances = append(resp.Utterances, p.Text)
		case domain.StartAction:
			resp.Actions = append(resp.Actions, p)
		case domain.StartTimer:
			resp.Timers = append(resp.Timers, p)
		case domain.FlowError:
			resp.Errors = append(resp.Errors, p)
		}
	}
	return resp, nil
}

// AdvanceAndRender decodes an encoded state (or starts sessionID when
// state is empty), runs one turn and packs the result. This is the
// stateless round trip behind the HTTP and MCP adapters.
func AdvanceAndRender(ctx context.Context, engine ports.Engine, sessionID string, state json.RawMessage, events []domain.Event) (*RichResponse, error) {
	program := engine.Program()
	var (
		current *domain.State
		started []domain.Event
		err     error
	)
	if len(state) == 0 {
		current, started, err = engine.Start(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return NewRichResponse(program, current, started)
		}
	} else {
		current, err = codec.Decode(program, state)
		if err != nil {
			return nil, err
		}
	}

	next, out, err := engine.Advance(ctx, current, events)
	if err != nil {
		return nil, err
	}
	return NewRichResponse(program, next, append(started, out...))
}
