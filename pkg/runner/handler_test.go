package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_Output(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader(""), outBuf, WithTextHandlerRenderer(func(s string) (string, error) {
		return "Rendered: " + s, nil
	}))

	err := handler.Output(context.Background(), []domain.Event{
		{Payload: domain.FlowStarted{Flow: "greet"}},
		{Payload: domain.StartUtterance{ActionID: "a1", Text: "Hello World"}},
		{Payload: domain.FlowError{Flow: "greet", Code: domain.CodeEvalFailed, Message: "bad"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Rendered: Hello World\n[System] flow greet failed (eval_failed): bad\n", outBuf.String())
}

func TestTextHandler_Input(t *testing.T) {
	input := "\n  hello there \n/event deployed\n/start audit\n/stop audit\n/bogus\n/quit\nignored\n"
	handler := NewTextHandler(strings.NewReader(input), io.Discard)
	ctx := context.Background()

	want := []domain.EventPayload{
		domain.UserUtterance{Text: "hello there"},
		domain.CustomEvent{Name: "deployed"},
		domain.StartFlow{Flow: "audit"},
		domain.StopFlow{Flow: "audit"},
		domain.UserUtterance{Text: "/bogus"},
	}
	for _, w := range want {
		ev, err := handler.Input(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, ev.Payload)
	}
	_, err := handler.Input(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTextHandler_RejectsOversizedInput(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader("way too long\nok\n"), outBuf, WithTextHandlerMaxInputSize(5))

	ev, err := handler.Input(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UserUtterance{Text: "ok"}, ev.Payload)
	assert.Contains(t, outBuf.String(), "Please try again")
}

func TestTextHandler_InputRespectsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	handler := NewTextHandler(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := handler.Input(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONHandler_Input(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"CustomEvent","payload":{"name":"deployed","data":{"env":"prod"}}}`,
		`"quoted text"`,
		`raw text`,
		`{"kind":"Bogus"}`,
		`{"kind":"FlowError","payload":{}}`,
		``,
		`last`,
	}, "\n")
	out := &bytes.Buffer{}
	handler := NewJSONHandler(strings.NewReader(input), out)
	ctx := context.Background()

	want := []domain.EventPayload{
		domain.CustomEvent{Name: "deployed", Data: map[string]any{"env": "prod"}},
		domain.UserUtterance{Text: "quoted text"},
		domain.UserUtterance{Text: "raw text"},
		domain.UserUtterance{Text: "last"},
	}
	for _, w := range want {
		ev, err := handler.Input(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, ev.Payload)
	}
	_, err := handler.Input(ctx)
	assert.ErrorIs(t, err, io.EOF)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "unknown event kind")
	assert.Contains(t, lines[1], "outbound only")
}

func TestJSONHandler_Output(t *testing.T) {
	out := &bytes.Buffer{}
	handler := NewJSONHandler(strings.NewReader(""), out)

	require.NoError(t, handler.Output(context.Background(), []domain.Event{
		{ID: "e1", Payload: domain.StartUtterance{ActionID: "a1", Text: "hi"}},
	}))
	require.NoError(t, handler.SystemOutput(context.Background(), "note"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"kind":"StartUtterance"`)
	assert.Contains(t, lines[0], `"text":"hi"`)
	assert.JSONEq(t, `{"system":"note"}`, lines[1])
}
