package domain

import "sort"

// StateVersion is written into every encoded State.
const StateVersion = 1

// HeadStatus is the lifecycle state of a FlowHead.
type HeadStatus string

const (
	// HeadWaiting: spawned, has not consumed an event yet. It may still be
	// blocked on an action issued before its first match.
	HeadWaiting HeadStatus = "waiting"
	// HeadActive: has consumed at least one event and is paused.
	HeadActive HeadStatus = "active"
	// HeadMatched: transient, while a head consumes an event and runs to its next pause.
	HeadMatched  HeadStatus = "matched"
	HeadStopped  HeadStatus = "stopped"
	HeadFinished HeadStatus = "finished"
)

// Live reports whether a head in this status can still consume events.
func (s HeadStatus) Live() bool {
	return s == HeadWaiting || s == HeadActive || s == HeadMatched
}

// FlowHead is a live cursor into a FlowDefinition.
type FlowHead struct {
	InstanceID int        `json:"instance_id"`
	FlowID     FlowID     `json:"flow_id"`
	Position   int        `json:"position"`
	Status     HeadStatus `json:"status"`
	// Wait is the id of the blocking action the head is suspended on.
	Wait string `json:"wait,omitempty"`
	// Event holds the fields of the last event the head consumed.
	Event map[string]any `json:"event,omitempty"`
	// Respawn marks heads spawned by flow activation; they are replaced by a
	// fresh head when they terminate.
	Respawn bool `json:"respawn,omitempty"`
}

// InvocationStatus tracks an action through its lifecycle.
type InvocationStatus string

const (
	InvocationRequested InvocationStatus = "requested"
	InvocationStarted   InvocationStatus = "started"
	InvocationFinished  InvocationStatus = "finished"
	InvocationFailed    InvocationStatus = "failed"
)

// ActionInvocation is an outstanding request issued by a head.
type ActionInvocation struct {
	ActionID   string           `json:"action_id"`
	Name       string           `json:"name"`
	Params     map[string]any   `json:"params"`
	Status     InvocationStatus `json:"status"`
	InstanceID int              `json:"instance_id"`
	Binding    string           `json:"binding,omitempty"`
	Blocking   bool             `json:"blocking"`
	Timer      bool             `json:"timer,omitempty"`
}

// State is the serializable snapshot of one session.
type State struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	// Seq feeds deterministic id generation.
	Seq          uint64 `json:"seq"`
	NextInstance int    `json:"next_instance"`
	Turn         int    `json:"turn"`

	Heads       []FlowHead         `json:"heads"`
	Context     map[string]any     `json:"context"`
	Invocations []ActionInvocation `json:"invocations"`
}

// NewState creates an empty state for a session.
func NewState(sessionID string) *State {
	return &State{
		Version:      StateVersion,
		SessionID:    sessionID,
		NextInstance: 1,
		Heads:        []FlowHead{},
		Context:      map[string]any{},
		Invocations:  []ActionInvocation{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Heads = make([]FlowHead, len(s.Heads))
	for i, h := range s.Heads {
		h.Event = deepCopyMap(h.Event)
		out.Heads[i] = h
	}
	out.Context = deepCopyMap(s.Context)
	if out.Context == nil {
		out.Context = map[string]any{}
	}
	out.Invocations = make([]ActionInvocation, len(s.Invocations))
	for i, inv := range s.Invocations {
		inv.Params = deepCopyMap(inv.Params)
		out.Invocations[i] = inv
	}
	return &out
}

// Head returns the head with the given instance id.
func (s *State) Head(instanceID int) *FlowHead {
	for i := range s.Heads {
		if s.Heads[i].InstanceID == instanceID {
			return &s.Heads[i]
		}
	}
	return nil
}

// Invocation returns the outstanding invocation with the given id.
func (s *State) Invocation(actionID string) *ActionInvocation {
	for i := range s.Invocations {
		if s.Invocations[i].ActionID == actionID {
			return &s.Invocations[i]
		}
	}
	return nil
}

// RemoveInvocation drops an invocation. It reports whether one was removed.
func (s *State) RemoveInvocation(actionID string) bool {
	for i := range s.Invocations {
		if s.Invocations[i].ActionID == actionID {
			s.Invocations = append(s.Invocations[:i], s.Invocations[i+1:]...)
			return true
		}
	}
	return false
}

// InvocationsOf returns the ids of the invocations owned by a head, in issue order.
func (s *State) InvocationsOf(instanceID int) []string {
	var ids []string
	for _, inv := range s.Invocations {
		if inv.InstanceID == instanceID {
			ids = append(ids, inv.ActionID)
		}
	}
	return ids
}

// PendingTimers returns the outstanding timer invocations.
func (s *State) PendingTimers() []ActionInvocation {
	var out []ActionInvocation
	for _, inv := range s.Invocations {
		if inv.Timer {
			out = append(out, inv)
		}
	}
	return out
}

// SortHeads orders heads by instance id, the canonical order of a State.
func (s *State) SortHeads() {
	sort.SliceStable(s.Heads, func(i, j int) bool {
		return s.Heads[i].InstanceID < s.Heads[j].InstanceID
	})
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		if t == nil {
			return nil
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
