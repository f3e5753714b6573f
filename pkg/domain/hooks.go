package domain

import (
	"context"
	"time"
)

// HeadEvent describes a status change of a flow head.
type HeadEvent struct {
	SessionID  string
	Flow       string
	InstanceID int
	From       HeadStatus
	To         HeadStatus
	Position   int
}

// ActionEvent describes an action request or resolution.
type ActionEvent struct {
	SessionID  string
	ActionID   string
	Name       string
	Flow       string
	InstanceID int
	Failed     bool
}

// TurnEvent summarizes one call to Advance.
type TurnEvent struct {
	SessionID string
	Turn      int
	Inbound   int
	Outbound  int
	Heads     int
	Duration  time.Duration
	Err       error
}

// LifecycleHooks are the interpreter's metrics sink. Every field is optional;
// the interpreter calls them synchronously from inside a turn.
type LifecycleHooks struct {
	OnEvent           func(context.Context, string, Event)
	OnHeadTransition  func(context.Context, *HeadEvent)
	OnActionRequested func(context.Context, *ActionEvent)
	OnActionResolved  func(context.Context, *ActionEvent)
	OnFlowError       func(context.Context, string, FlowError)
	OnTurn            func(context.Context, *TurnEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnEvent:           chain2(h.OnEvent, other.OnEvent),
		OnHeadTransition:  chain1(h.OnHeadTransition, other.OnHeadTransition),
		OnActionRequested: chain1(h.OnActionRequested, other.OnActionRequested),
		OnActionResolved:  chain1(h.OnActionResolved, other.OnActionResolved),
		OnFlowError:       chain2(h.OnFlowError, other.OnFlowError),
		OnTurn:            chain1(h.OnTurn, other.OnTurn),
	}
}

func chain1[T any](a, b func(context.Context, T)) func(context.Context, T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, v T) {
		a(ctx, v)
		b(ctx, v)
	}
}

func chain2[T any](a, b func(context.Context, string, T)) func(context.Context, string, T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, s string, v T) {
		a(ctx, s, v)
		b(ctx, s, v)
	}
}
