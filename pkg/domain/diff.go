package domain

import (
	"reflect"
)

// StateDiff represents the changes between two states.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	// Heads lists heads that appeared or changed position/status.
	Heads []HeadChange `json:"heads,omitempty"`

	// Removed lists instance ids pruned since the old state.
	Removed []int `json:"removed,omitempty"`

	// Context contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Context map[string]any `json:"context,omitempty"`

	Requested []string `json:"requested,omitempty"`
	Resolved  []string `json:"resolved,omitempty"`
}

// HeadChange is the new position and status of one head.
type HeadChange struct {
	InstanceID int        `json:"instance_id"`
	FlowID     FlowID     `json:"flow_id"`
	Position   int        `json:"position"`
	Status     HeadStatus `json:"status"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState (initial load).
// It returns nil when nothing changed.
func Diff(oldState, newState *State) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{
		SessionID: newState.SessionID,
		Context:   diffContext(oldState, newState),
	}

	oldHeads := map[int]FlowHead{}
	oldInv := map[string]bool{}
	if oldState != nil {
		for _, h := range oldState.Heads {
			oldHeads[h.InstanceID] = h
		}
		for _, inv := range oldState.Invocations {
			oldInv[inv.ActionID] = true
		}
	}

	seen := map[int]bool{}
	for _, h := range newState.Heads {
		seen[h.InstanceID] = true
		prev, ok := oldHeads[h.InstanceID]
		if !ok || prev.Position != h.Position || prev.Status != h.Status {
			diff.Heads = append(diff.Heads, HeadChange{
				InstanceID: h.InstanceID,
				FlowID:     h.FlowID,
				Position:   h.Position,
				Status:     h.Status,
			})
		}
	}
	if oldState != nil {
		for _, h := range oldState.Heads {
			if !seen[h.InstanceID] {
				diff.Removed = append(diff.Removed, h.InstanceID)
			}
		}
	}

	newInv := map[string]bool{}
	for _, inv := range newState.Invocations {
		newInv[inv.ActionID] = true
		if !oldInv[inv.ActionID] {
			diff.Requested = append(diff.Requested, inv.ActionID)
		}
	}
	if oldState != nil {
		for _, inv := range oldState.Invocations {
			if !newInv[inv.ActionID] {
				diff.Resolved = append(diff.Resolved, inv.ActionID)
			}
		}
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffContext(old *State, new *State) map[string]any {
	delta := make(map[string]any)

	// If old is nil, everything in new is a delta
	if old == nil {
		for k, v := range new.Context {
			delta[k] = v
		}
		return nilIfEmpty(delta)
	}

	for k, newVal := range new.Context {
		oldVal, exists := old.Context[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	for k := range old.Context {
		if _, exists := new.Context[k]; !exists {
			delta[k] = nil
		}
	}

	return nilIfEmpty(delta)
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return len(d.Heads) == 0 &&
		len(d.Removed) == 0 &&
		len(d.Context) == 0 &&
		len(d.Requested) == 0 &&
		len(d.Resolved) == 0
}
