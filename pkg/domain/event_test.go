package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONEnvelope(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := Event{ID: "e1", Time: at, Payload: ActionFinished{ActionID: "a1", Result: map[string]any{"n": 3}}}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1","kind":"ActionFinished","time":"2024-01-02T03:04:05Z","payload":{"action_id":"a1","result":{"n":3}}}`, string(raw))

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, KindActionFinished, back.Kind())
	fin, ok := back.Payload.(ActionFinished)
	require.True(t, ok, "payload should decode to the value variant")
	assert.Equal(t, map[string]any{"n": 3.0}, fin.Result)

	id, ok := back.ActionID()
	assert.True(t, ok)
	assert.Equal(t, "a1", id)
}

func TestEvent_UnknownKindRejected(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"x","kind":"Teleport","payload":{}}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Teleport")
}

func TestEvent_UncorrelatedKinds(t *testing.T) {
	ev := Event{ID: "u", Payload: UserIntentDetected{Intent: "greeting"}}
	_, ok := ev.ActionID()
	assert.False(t, ok)
	assert.Equal(t, "greeting", ev.Payload.Fields()["intent"])
}

func TestNormalize(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	assert.Nil(t, Normalize(nil))
	assert.Nil(t, Normalize(map[string]any(nil)))
	assert.Equal(t, 2.0, Normalize(2))
	assert.Equal(t, []any{"a", "b"}, Normalize([]string{"a", "b"}))
	assert.Equal(t, map[string]any{"x": 4.0}, Normalize(point{X: 4}))
	assert.Equal(t, map[string]any{"l": []any{1.0, true}}, Normalize(map[string]any{"l": []any{int64(1), true}}))
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, CheckFinite(nil))
	assert.NoError(t, CheckFinite(map[string]any{"l": []any{1.5, "x", true}}))

	err := CheckFinite(math.Inf(1))
	assert.ErrorIs(t, err, ErrNonFinite)

	err = CheckFinite(map[string]any{"scores": []any{1.0, math.NaN()}})
	require.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), "scores[1]")

	err = CheckFinite(Normalize(map[string]any{"r": float32(math.Inf(-1))}))
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestKindIsBuiltin(t *testing.T) {
	assert.True(t, KindTimerElapsed.IsBuiltin())
	assert.False(t, EventKind("order_shipped").IsBuiltin())
}
