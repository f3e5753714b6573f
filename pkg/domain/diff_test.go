package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	base := func() *State {
		s := NewState("sess-1")
		s.Heads = []FlowHead{
			{InstanceID: 1, FlowID: 0, Position: 0, Status: HeadWaiting},
			{InstanceID: 2, FlowID: 1, Position: 2, Status: HeadActive, Wait: "a1"},
		}
		s.Context = map[string]any{"a": 1.0, "b": "x"}
		s.Invocations = []ActionInvocation{{ActionID: "a1", Name: "say", InstanceID: 2, Blocking: true}}
		return s
	}

	t.Run("Initial Load (Old is Nil)", func(t *testing.T) {
		d := Diff(nil, base())
		require.NotNil(t, d)
		assert.Equal(t, "sess-1", d.SessionID)
		assert.Len(t, d.Heads, 2)
		assert.Equal(t, map[string]any{"a": 1.0, "b": "x"}, d.Context)
		assert.Equal(t, []string{"a1"}, d.Requested)
	})

	t.Run("No Changes", func(t *testing.T) {
		assert.Nil(t, Diff(base(), base()))
	})

	t.Run("Head advanced and invocation resolved", func(t *testing.T) {
		old := base()
		next := base()
		next.Heads[1].Position = 3
		next.Heads[1].Status = HeadFinished
		next.Heads[1].Wait = ""
		next.Invocations = []ActionInvocation{}
		next.Context["b"] = "y"
		delete(next.Context, "a")

		d := Diff(old, next)
		require.NotNil(t, d)
		assert.Equal(t, []HeadChange{{InstanceID: 2, FlowID: 1, Position: 3, Status: HeadFinished}}, d.Heads)
		assert.Equal(t, []string{"a1"}, d.Resolved)
		assert.Equal(t, map[string]any{"a": nil, "b": "y"}, d.Context)
	})

	t.Run("Pruned heads are reported", func(t *testing.T) {
		old := base()
		next := base()
		next.Heads = next.Heads[:1]
		d := Diff(old, next)
		require.NotNil(t, d)
		assert.Equal(t, []int{2}, d.Removed)
	})
}
