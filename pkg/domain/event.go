package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the variant carried by an Event.
type EventKind string

const (
	KindUserUtterance      EventKind = "UserUtterance"
	KindUserIntentDetected EventKind = "UserIntentDetected"
	KindUnknownIntent      EventKind = "UnknownIntent"
	KindActionStarted      EventKind = "ActionStarted"
	KindActionUpdated      EventKind = "ActionUpdated"
	KindActionFinished     EventKind = "ActionFinished"
	KindActionFailed       EventKind = "ActionFailed"
	KindTimerElapsed       EventKind = "TimerElapsed"
	KindCustomEvent        EventKind = "CustomEvent"
	KindStartFlow          EventKind = "StartFlow"
	KindStopFlow           EventKind = "StopFlow"
	KindFlowStarted        EventKind = "FlowStarted"
	KindFlowFinished       EventKind = "FlowFinished"
	KindFlowStopped        EventKind = "FlowStopped"
	KindStartUtterance     EventKind = "StartUtterance"
	KindStartAction        EventKind = "StartAction"
	KindStartTimer         EventKind = "StartTimer"
	KindCancelAction       EventKind = "CancelAction"
	KindFlowError          EventKind = "FlowError"
)

// IsBuiltin reports whether k names one of the closed set of event variants.
func (k EventKind) IsBuiltin() bool {
	_, ok := payloadFactories[k]
	return ok
}

// EventPayload is the sealed interface implemented by every event variant.
type EventPayload interface {
	Kind() EventKind
	// Fields exposes the payload to flow expressions as the "event" variable.
	Fields() map[string]any
	isPayload()
}

// Correlated is implemented by payloads that refer back to an action invocation.
type Correlated interface {
	EventPayload
	CorrelationID() string
}

// Event is an immutable occurrence exchanged between the interpreter and its host.
type Event struct {
	ID      string
	Time    time.Time
	Payload EventPayload
}

// Kind returns the variant of the event.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// ActionID returns the correlated action id, if the variant carries one.
func (e Event) ActionID() (string, bool) {
	if c, ok := e.Payload.(Correlated); ok {
		return c.CorrelationID(), true
	}
	return "", false
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind(), e.ID)
}

// --- Inbound variants ---

type UserUtterance struct {
	Text string `json:"text"`
}

type UserIntentDetected struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence,omitempty"`
	Text       string  `json:"text,omitempty"`
}

type UnknownIntent struct {
	Text string `json:"text"`
}

type ActionStarted struct {
	ActionID string `json:"action_id"`
}

type ActionUpdated struct {
	ActionID string         `json:"action_id"`
	Data     map[string]any `json:"data,omitempty"`
}

type ActionFinished struct {
	ActionID string `json:"action_id"`
	Result   any    `json:"result,omitempty"`
}

type ActionFailed struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

type TimerElapsed struct {
	ActionID string `json:"action_id"`
}

// CustomEvent carries an application-defined event matched by `event NAME`.
type CustomEvent struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// StartFlow asks the interpreter to spawn a new instance of a flow.
type StartFlow struct {
	Flow string `json:"flow"`
}

// StopFlow asks the interpreter to stop every live instance of a flow.
type StopFlow struct {
	Flow string `json:"flow"`
}

// --- Flow lifecycle (outbound, also re-queued internally) ---

type FlowStarted struct {
	Flow       string `json:"flow"`
	InstanceID int    `json:"instance_id"`
}

type FlowFinished struct {
	Flow       string `json:"flow"`
	InstanceID int    `json:"instance_id"`
}

type FlowStopped struct {
	Flow       string `json:"flow"`
	InstanceID int    `json:"instance_id"`
}

// --- Outbound variants ---

// StartUtterance asks the host to say something on behalf of the bot.
type StartUtterance struct {
	ActionID string `json:"action_id"`
	Intent   string `json:"intent,omitempty"`
	Text     string `json:"text"`
}

type StartAction struct {
	ActionID string         `json:"action_id"`
	Name     string         `json:"name"`
	Params   map[string]any `json:"params,omitempty"`
}

type StartTimer struct {
	ActionID string        `json:"action_id"`
	Duration time.Duration `json:"duration"`
}

type CancelAction struct {
	ActionID string `json:"action_id"`
	Name     string `json:"name"`
}

// FlowError surfaces a runtime failure scoped to a single head.
type FlowError struct {
	Flow       string `json:"flow"`
	InstanceID int    `json:"instance_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// FlowError codes.
const (
	CodeUnknownAction = "unknown_action"
	CodeActionFailed  = "action_failed"
	CodeEvalFailed    = "eval_failed"
	CodeStepLimit     = "step_limit"
	CodeUnknownFlow   = "unknown_flow"
)

func (UserUtterance) Kind() EventKind      { return KindUserUtterance }
func (UserIntentDetected) Kind() EventKind { return KindUserIntentDetected }
func (UnknownIntent) Kind() EventKind      { return KindUnknownIntent }
func (ActionStarted) Kind() EventKind      { return KindActionStarted }
func (ActionUpdated) Kind() EventKind      { return KindActionUpdated }
func (ActionFinished) Kind() EventKind     { return KindActionFinished }
func (ActionFailed) Kind() EventKind       { return KindActionFailed }
func (TimerElapsed) Kind() EventKind       { return KindTimerElapsed }
func (CustomEvent) Kind() EventKind        { return KindCustomEvent }
func (StartFlow) Kind() EventKind          { return KindStartFlow }
func (StopFlow) Kind() EventKind           { return KindStopFlow }
func (FlowStarted) Kind() EventKind        { return KindFlowStarted }
func (FlowFinished) Kind() EventKind       { return KindFlowFinished }
func (FlowStopped) Kind() EventKind        { return KindFlowStopped }
func (StartUtterance) Kind() EventKind     { return KindStartUtterance }
func (StartAction) Kind() EventKind        { return KindStartAction }
func (StartTimer) Kind() EventKind         { return KindStartTimer }
func (CancelAction) Kind() EventKind       { return KindCancelAction }
func (FlowError) Kind() EventKind          { return KindFlowError }

func (UserUtterance) isPayload()      {}
func (UserIntentDetected) isPayload() {}
func (UnknownIntent) isPayload()      {}
func (ActionStarted) isPayload()      {}
func (ActionUpdated) isPayload()      {}
func (ActionFinished) isPayload()     {}
func (ActionFailed) isPayload()       {}
func (TimerElapsed) isPayload()       {}
func (CustomEvent) isPayload()        {}
func (StartFlow) isPayload()          {}
func (StopFlow) isPayload()           {}
func (FlowStarted) isPayload()        {}
func (FlowFinished) isPayload()       {}
func (FlowStopped) isPayload()        {}
func (StartUtterance) isPayload()     {}
func (StartAction) isPayload()        {}
func (StartTimer) isPayload()         {}
func (CancelAction) isPayload()       {}
func (FlowError) isPayload()          {}

func (p ActionStarted) CorrelationID() string  { return p.ActionID }
func (p ActionUpdated) CorrelationID() string  { return p.ActionID }
func (p ActionFinished) CorrelationID() string { return p.ActionID }
func (p ActionFailed) CorrelationID() string   { return p.ActionID }
func (p TimerElapsed) CorrelationID() string   { return p.ActionID }

func (p UserUtterance) Fields() map[string]any { return map[string]any{"text": p.Text} }
func (p UserIntentDetected) Fields() map[string]any {
	return map[string]any{"intent": p.Intent, "confidence": p.Confidence, "text": p.Text}
}
func (p UnknownIntent) Fields() map[string]any { return map[string]any{"text": p.Text} }
func (p ActionStarted) Fields() map[string]any { return map[string]any{"action_id": p.ActionID} }
func (p ActionUpdated) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "data": Normalize(p.Data)}
}
func (p ActionFinished) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "result": Normalize(p.Result)}
}
func (p ActionFailed) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "error": p.Error}
}
func (p TimerElapsed) Fields() map[string]any { return map[string]any{"action_id": p.ActionID} }
func (p CustomEvent) Fields() map[string]any {
	return map[string]any{"name": p.Name, "data": Normalize(p.Data)}
}
func (p StartFlow) Fields() map[string]any { return map[string]any{"flow": p.Flow} }
func (p StopFlow) Fields() map[string]any  { return map[string]any{"flow": p.Flow} }
func (p FlowStarted) Fields() map[string]any {
	return map[string]any{"flow": p.Flow, "instance_id": float64(p.InstanceID)}
}
func (p FlowFinished) Fields() map[string]any {
	return map[string]any{"flow": p.Flow, "instance_id": float64(p.InstanceID)}
}
func (p FlowStopped) Fields() map[string]any {
	return map[string]any{"flow": p.Flow, "instance_id": float64(p.InstanceID)}
}
func (p StartUtterance) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "intent": p.Intent, "text": p.Text}
}
func (p StartAction) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "name": p.Name, "params": Normalize(p.Params)}
}
func (p StartTimer) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "seconds": p.Duration.Seconds()}
}
func (p CancelAction) Fields() map[string]any {
	return map[string]any{"action_id": p.ActionID, "name": p.Name}
}
func (p FlowError) Fields() map[string]any {
	return map[string]any{"flow": p.Flow, "instance_id": float64(p.InstanceID), "code": p.Code, "message": p.Message}
}

var payloadFactories = map[EventKind]func() EventPayload{
	KindUserUtterance:      func() EventPayload { return &UserUtterance{} },
	KindUserIntentDetected: func() EventPayload { return &UserIntentDetected{} },
	KindUnknownIntent:      func() EventPayload { return &UnknownIntent{} },
	KindActionStarted:      func() EventPayload { return &ActionStarted{} },
	KindActionUpdated:      func() EventPayload { return &ActionUpdated{} },
	KindActionFinished:     func() EventPayload { return &ActionFinished{} },
	KindActionFailed:       func() EventPayload { return &ActionFailed{} },
	KindTimerElapsed:       func() EventPayload { return &TimerElapsed{} },
	KindCustomEvent:        func() EventPayload { return &CustomEvent{} },
	KindStartFlow:          func() EventPayload { return &StartFlow{} },
	KindStopFlow:           func() EventPayload { return &StopFlow{} },
	KindFlowStarted:        func() EventPayload { return &FlowStarted{} },
	KindFlowFinished:       func() EventPayload { return &FlowFinished{} },
	KindFlowStopped:        func() EventPayload { return &FlowStopped{} },
	KindStartUtterance:     func() EventPayload { return &StartUtterance{} },
	KindStartAction:        func() EventPayload { return &StartAction{} },
	KindStartTimer:         func() EventPayload { return &StartTimer{} },
	KindCancelAction:       func() EventPayload { return &CancelAction{} },
	KindFlowError:          func() EventPayload { return &FlowError{} },
}

type eventEnvelope struct {
	ID      string          `json:"id"`
	Kind    EventKind       `json:"kind"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON writes the event as {"id","kind","time","payload"}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{ID: e.ID, Kind: e.Payload.Kind(), Time: e.Time, Payload: raw})
}

// UnmarshalJSON decodes the envelope, rejecting kinds outside the closed set.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	factory, ok := payloadFactories[env.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
	ptr := factory()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, ptr); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}
	e.ID = env.ID
	e.Time = env.Time
	e.Payload = deref(ptr)
	return nil
}

// deref turns the pointer produced by a factory back into the value variant,
// so type switches only ever see values.
func deref(p EventPayload) EventPayload {
	switch v := p.(type) {
	case *UserUtterance:
		return *v
	case *UserIntentDetected:
		return *v
	case *UnknownIntent:
		return *v
	case *ActionStarted:
		return *v
	case *ActionUpdated:
		v.Data = normalizeMap(v.Data)
		return *v
	case *ActionFinished:
		v.Result = Normalize(v.Result)
		return *v
	case *ActionFailed:
		return *v
	case *TimerElapsed:
		return *v
	case *CustomEvent:
		v.Data = normalizeMap(v.Data)
		return *v
	case *StartFlow:
		return *v
	case *StopFlow:
		return *v
	case *FlowStarted:
		return *v
	case *FlowFinished:
		return *v
	case *FlowStopped:
		return *v
	case *StartUtterance:
		return *v
	case *StartAction:
		v.Params = normalizeMap(v.Params)
		return *v
	case *StartTimer:
		return *v
	case *CancelAction:
		return *v
	case *FlowError:
		return *v
	}
	return p
}
