package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrUnknownAction is returned by dispatchers when no action is registered under a name.
var ErrUnknownAction = errors.New("unknown action")

// ErrUnknownFlow is returned when an event or command references a flow that is not compiled.
var ErrUnknownFlow = errors.New("unknown flow")

// ErrTooManyEvents is returned when a single turn derives more events than the configured limit.
var ErrTooManyEvents = errors.New("too many events in a single turn")

// SyntaxError reports the first lexical or grammatical problem in a source unit.
type SyntaxError struct {
	Source  string
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: syntax error: %s", e.Source, e.Line, e.Message)
}

// CompileError reports a static problem found while lowering a syntax tree:
// duplicate names, unresolved labels, unknown subflows or bad expressions.
type CompileError struct {
	Source  string
	Line    int
	Flow    string
	Message string
}

func (e *CompileError) Error() string {
	loc := fmt.Sprintf("line %d", e.Line)
	if e.Source != "" {
		loc = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if e.Flow != "" {
		return fmt.Sprintf("%s: compile error in flow %q: %s", loc, e.Flow, e.Message)
	}
	return fmt.Sprintf("%s: compile error: %s", loc, e.Message)
}

// UnknownActionError is raised when a RunAction element names an action the
// dispatcher does not recognize. Only the issuing head is affected.
type UnknownActionError struct {
	Action     string
	Flow       string
	InstanceID int
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("flow %q (instance %d): unknown action %q", e.Flow, e.InstanceID, e.Action)
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }

// AmbiguousMatchError means two primary heads produced the same ordering key
// for one event. It signals a broken tie-break and is never resolved silently.
type AmbiguousMatchError struct {
	EventID   string
	Kind      EventKind
	Instances []int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for event %s (%s) between instances %v", e.EventID, e.Kind, e.Instances)
}

// DecodeError is returned when a serialized State cannot be resumed against
// the current Program.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode state: %s: %v", e.Reason, e.Err)
	}
	return "decode state: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ActionFailedError is reported upward when a head does not catch the failure
// of an action it was waiting on.
type ActionFailedError struct {
	ActionID   string
	Action     string
	Flow       string
	InstanceID int
	Message    string
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("flow %q (instance %d): action %q (%s) failed: %s", e.Flow, e.InstanceID, e.Action, e.ActionID, e.Message)
}
