package codec

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = `
define flow greet
  user greeting
  $name = "Ann"
  $profile = execute lookup(id=7)
  bot "Hi $name"

define extension flow audit
  user *
  execute log(count=1)
`

func program(t *testing.T, src string) *domain.Program {
	t.Helper()
	prog, err := compiler.CompileSource(map[string][]byte{"main.co": []byte(src)})
	require.NoError(t, err)
	return prog
}

func interpreter(t *testing.T, prog *domain.Program) *runtime.Interpreter {
	t.Helper()
	in, err := runtime.New(prog,
		runtime.WithClock(func() time.Time { return time.Unix(0, 0).UTC() }),
		runtime.WithIDGenerator(runtime.SequentialIDs("a")))
	require.NoError(t, err)
	return in
}

func started(t *testing.T, in *runtime.Interpreter) *domain.State {
	t.Helper()
	state, _, err := in.Start(context.Background(), "s-42")
	require.NoError(t, err)
	return state
}

func advance(t *testing.T, in *runtime.Interpreter, state *domain.State, payloads ...domain.EventPayload) *domain.State {
	t.Helper()
	events := make([]domain.Event, len(payloads))
	for i, p := range payloads {
		events[i] = domain.Event{Payload: p}
	}
	next, _, err := in.Advance(context.Background(), state, events)
	require.NoError(t, err)
	return next
}

func midConversation(t *testing.T, prog *domain.Program) *domain.State {
	t.Helper()
	in := interpreter(t, prog)
	return advance(t, in, started(t, in), domain.UserIntentDetected{Intent: "greeting"})
}

func invocationNamed(t *testing.T, state *domain.State, name string) string {
	t.Helper()
	for _, inv := range state.Invocations {
		if inv.Name == name {
			return inv.ActionID
		}
	}
	t.Fatalf("no invocation of %s", name)
	return ""
}

const timerSource = `
define flow nudge
  user wait
  execute timer(seconds=2)
  bot "still there?"
`

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		build func(t *testing.T, in *runtime.Interpreter) *domain.State
		check func(t *testing.T, state *domain.State)
	}{
		{
			name: "after start",
			src:  source,
			build: func(t *testing.T, in *runtime.Interpreter) *domain.State {
				return started(t, in)
			},
			check: func(t *testing.T, state *domain.State) {
				assert.Empty(t, state.Invocations)
				assert.Empty(t, state.Context)
			},
		},
		{
			name: "blocked on an action",
			src:  source,
			build: func(t *testing.T, in *runtime.Interpreter) *domain.State {
				return advance(t, in, started(t, in), domain.UserIntentDetected{Intent: "greeting"})
			},
			check: func(t *testing.T, state *domain.State) {
				assert.Equal(t, invocationNamed(t, state, "lookup"), state.Heads[0].Wait)
			},
		},
		{
			name: "pending timer",
			src:  timerSource,
			build: func(t *testing.T, in *runtime.Interpreter) *domain.State {
				return advance(t, in, started(t, in), domain.UserIntentDetected{Intent: "wait"})
			},
			check: func(t *testing.T, state *domain.State) {
				assert.Len(t, state.PendingTimers(), 1)
			},
		},
		{
			name: "stopped and respawned",
			src:  source,
			build: func(t *testing.T, in *runtime.Interpreter) *domain.State {
				state := advance(t, in, started(t, in), domain.UserIntentDetected{Intent: "greeting"})
				return advance(t, in, state, domain.StopFlow{Flow: "greet"})
			},
			check: func(t *testing.T, state *domain.State) {
				var statuses []domain.HeadStatus
				for _, h := range state.Heads {
					statuses = append(statuses, h.Status)
				}
				assert.Contains(t, statuses, domain.HeadStopped)
				assert.Contains(t, statuses, domain.HeadWaiting)
			},
		},
		{
			name: "nested context",
			src:  source,
			build: func(t *testing.T, in *runtime.Interpreter) *domain.State {
				state := advance(t, in, started(t, in), domain.UserIntentDetected{Intent: "greeting"})
				return advance(t, in, state, domain.ActionFinished{
					ActionID: invocationNamed(t, state, "lookup"),
					Result: map[string]any{
						"name":    "Ann",
						"tags":    []any{"vip", 3.0, []any{true, nil}},
						"address": map[string]any{"city": "Oslo", "zip": []any{"0150"}},
					},
				})
			},
			check: func(t *testing.T, state *domain.State) {
				profile, ok := state.Context["profile"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, []any{"vip", 3.0, []any{true, nil}}, profile["tags"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := program(t, tt.src)
			state := tt.build(t, interpreter(t, prog))
			tt.check(t, state)

			data, err := Encode(prog, state)
			require.NoError(t, err)

			decoded, err := Decode(prog, data)
			require.NoError(t, err)
			assert.Equal(t, state, decoded)

			// Encoding is stable across a decode.
			again, err := Encode(prog, decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(again))
		})
	}
}

func TestEncodeAfterNonFiniteAssignment(t *testing.T) {
	prog := program(t, source+`
define flow calc
  user divide
  $r = 1 / 0
  bot "r is $r"
`)
	in := interpreter(t, prog)
	state, out, err := in.Advance(context.Background(), started(t, in),
		[]domain.Event{{Payload: domain.UserIntentDetected{Intent: "divide"}}})
	require.NoError(t, err)

	var failed []domain.FlowError
	for _, e := range out {
		if fe, ok := e.Payload.(domain.FlowError); ok {
			failed = append(failed, fe)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeEvalFailed, failed[0].Code)
	assert.NotContains(t, state.Context, "r")

	data, err := Encode(prog, state)
	require.NoError(t, err)
	decoded, err := Decode(prog, data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestEncodeRejectsNonFiniteContext(t *testing.T) {
	prog := program(t, source)
	state := midConversation(t, prog)
	state.Context["ratio"] = map[string]any{"value": math.Inf(1)}

	_, err := Encode(prog, state)
	assert.ErrorIs(t, err, domain.ErrNonFinite)
	assert.Contains(t, err.Error(), "ratio.value")
}

func TestEncodeNamesPositions(t *testing.T) {
	prog := program(t, source)
	data, err := Encode(prog, midConversation(t, prog))
	require.NoError(t, err)

	var doc struct {
		Heads []struct {
			Position Position `json:"position"`
		} `json:"heads"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotEmpty(t, doc.Heads)
	assert.Equal(t, Position{Flow: "greet", Index: 2, Element: string(domain.ElementRunAction)}, doc.Heads[0].Position)
}

func TestDecodeErrors(t *testing.T) {
	prog := program(t, source)
	data, err := Encode(prog, midConversation(t, prog))
	require.NoError(t, err)

	tests := []struct {
		name   string
		prog   *domain.Program
		data   []byte
		reason string
	}{
		{
			name:   "malformed",
			prog:   prog,
			data:   []byte("{not json"),
			reason: "malformed",
		},
		{
			name:   "version",
			prog:   prog,
			data:   mutate(t, data, func(doc map[string]any) { doc["version"] = 99 }),
			reason: "unsupported version",
		},
		{
			name: "removed flow",
			prog: program(t, `
define extension flow audit
  user *
  execute log(count=1)
`),
			data:   data,
			reason: "no longer exists",
		},
		{
			name:   "index out of range",
			prog:   prog,
			data:   mutate(t, data, func(doc map[string]any) { position(doc, 0)["index"] = 40 }),
			reason: "out of range",
		},
		{
			name: "element mismatch",
			prog: program(t, `
define flow greet
  user greeting
  $name = "Ann"
  $x = 1
  bot "Hi $name"

define extension flow audit
  user *
  execute log(count=1)
`),
			data:   data,
			reason: "program has",
		},
		{
			name: "dangling wait",
			prog: prog,
			data: mutate(t, data, func(doc map[string]any) {
				doc["invocations"] = []any{}
			}),
			reason: "waits on unknown action",
		},
		{
			name: "duplicate instance",
			prog: prog,
			data: mutate(t, data, func(doc map[string]any) {
				heads := doc["heads"].([]any)
				doc["heads"] = append(heads, heads[0])
			}),
			reason: "duplicate head",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.prog, tt.data)
			var de *domain.DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
			assert.Contains(t, de.Error(), tt.reason)
		})
	}
}

func mutate(t *testing.T, data []byte, fn func(map[string]any)) []byte {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	fn(doc)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func position(doc map[string]any, i int) map[string]any {
	return doc["heads"].([]any)[i].(map[string]any)["position"].(map[string]any)
}
