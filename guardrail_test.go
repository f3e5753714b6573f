package guardrail_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/adapters/file"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/internal/testutils"
	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, loader *memory.Loader, opts ...guardrail.Option) *guardrail.Engine {
	t.Helper()
	base := []guardrail.Option{
		guardrail.WithLoader(loader),
		guardrail.WithClock(testutils.FixedClock),
		guardrail.WithIDGenerator(runtime.SequentialIDs("e")),
	}
	eng, err := guardrail.New("", append(base, opts...)...)
	require.NoError(t, err)
	return eng
}

func say(text string) domain.Event {
	return domain.Event{Payload: domain.UserUtterance{Text: text}}
}

func utterances(events []domain.Event) []domain.StartUtterance {
	var out []domain.StartUtterance
	for _, ev := range events {
		if u, ok := ev.Payload.(domain.StartUtterance); ok {
			out = append(out, u)
		}
	}
	return out
}

func TestEngine_GreetScenario(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": testutils.GreetSource})
	eng, err := guardrail.New(dir, guardrail.WithClock(testutils.FixedClock))
	require.NoError(t, err)

	ctx := context.Background()
	state, out, err := eng.Start(ctx, "greet")
	require.NoError(t, err)
	assert.Len(t, out, 2, "both activated flows start")

	state, out, err = eng.Advance(ctx, state, []domain.Event{say("Hi there")})
	require.NoError(t, err)
	utters := utterances(out)
	require.Len(t, utters, 1)
	assert.Equal(t, "Hello! Nice to meet you.", utters[0].Text)

	_, out, err = eng.Advance(ctx, state, []domain.Event{{Payload: domain.ActionFinished{ActionID: utters[0].ActionID}}})
	require.NoError(t, err)
	assert.Contains(t, kinds(out), domain.KindFlowFinished)
}

func TestEngine_GoodbyeOutranksWildcard(t *testing.T) {
	eng := newEngine(t, memory.NewLoader(map[string]string{
		"chat.co": `
define flow chitchat
  user *
  bot "tell me more"
`,
		"bye.co": `
define user goodbye
  "bye"

define flow goodbye
  priority 5
  user goodbye
  bot "See you!"
  stop
`,
	}))

	ctx := context.Background()
	state, _, err := eng.Start(ctx, "bye")
	require.NoError(t, err)

	_, out, err := eng.Advance(ctx, state, []domain.Event{say("bye")})
	require.NoError(t, err)
	utters := utterances(out)
	require.Len(t, utters, 1)
	assert.Equal(t, "See you!", utters[0].Text)
}

func TestEngine_SampleMatching(t *testing.T) {
	eng := newEngine(t, memory.NewLoader(map[string]string{"main.co": testutils.GreetSource}),
		guardrail.WithSampleMatching(0.4))

	ctx := context.Background()
	state, _, err := eng.Start(ctx, "samples")
	require.NoError(t, err)

	_, out, err := eng.Advance(ctx, state, []domain.Event{say("hello there")})
	require.NoError(t, err)
	require.Len(t, utterances(out), 1)
}

func TestEngine_CompileErrorIsReturned(t *testing.T) {
	_, err := guardrail.New("", guardrail.WithLoader(memory.NewLoader(map[string]string{
		"bad.co": "define flow f\n  goto nowhere\n",
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.co")
}

func TestEngine_Reload(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": testutils.GreetSource})
	eng, err := guardrail.New(dir)
	require.NoError(t, err)
	require.Len(t, eng.Program().Flows, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.co"), []byte("define flow extra\n  user thanks\n  bot \"welcome\"\n"), 0644))
	require.NoError(t, eng.Reload(context.Background()))
	_, ok := eng.Program().Lookup("extra")
	assert.True(t, ok)

	// A broken edit keeps the previous program in service.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.co"), []byte("define flow extra\n  goto nowhere\n"), 0644))
	require.Error(t, eng.Reload(context.Background()))
	assert.Len(t, eng.Program().Flows, 3)
}

func TestEngine_Watch(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": testutils.GreetSource})
	loader := file.NewLoader(dir)
	loader.Debounce = 20 * time.Millisecond
	eng, err := guardrail.New("", guardrail.WithLoader(loader))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := eng.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.co"), []byte("define flow only\n  user hi\n"), 0644))

	select {
	case name := <-changes:
		assert.Equal(t, "main.co", name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	require.Len(t, eng.Program().Flows, 1)
	assert.Equal(t, "only", eng.Program().Flows[0].Name)
}

func TestEngine_WatchUnsupported(t *testing.T) {
	eng := newEngine(t, memory.NewLoader(map[string]string{"main.co": testutils.GreetSource}))
	_, err := eng.Watch(context.Background())
	assert.ErrorIs(t, err, guardrail.ErrNotWatchable)
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}
