package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterSource = `
define flow count
  event tick
  if $n == nil
    $n = 0
  $n = $n + 1
`

func engine(t *testing.T, src string) ports.Engine {
	t.Helper()
	prog, err := compiler.CompileSource(map[string][]byte{"main.co": []byte(src)})
	require.NoError(t, err)
	in, err := runtime.New(prog)
	require.NoError(t, err)
	return in
}

func tick() []domain.Event {
	return []domain.Event{{Payload: domain.CustomEvent{Name: "tick"}}}
}

// slowStore simulates latency to provoke lost updates if locking is missing.
type slowStore struct {
	*memory.Store
}

func (s slowStore) Save(ctx context.Context, id string, data []byte) error {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Save(ctx, id, data)
}

func (s slowStore) Load(ctx context.Context, id string) ([]byte, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Load(ctx, id)
}

func TestManager_SerializesTurns(t *testing.T) {
	mgr := session.NewManager(engine(t, counterSource), slowStore{memory.NewStore()})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := mgr.Advance(ctx, "race", tick())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := mgr.Load(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, 20.0, state.Context["n"])
	assert.Equal(t, 20, state.Turn)
}

func TestManager_AdvanceStartsMissingSession(t *testing.T) {
	transcript := memory.NewTranscript()
	mgr := session.NewManager(engine(t, counterSource), memory.NewStore(), session.WithTranscript(transcript))
	ctx := context.Background()

	state, out, err := mgr.Advance(ctx, "new", tick())
	require.NoError(t, err)
	assert.Equal(t, 1.0, state.Context["n"])
	// FlowStarted from the start, then FlowFinished and the respawn.
	assert.Equal(t, domain.KindFlowStarted, out[0].Kind())

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids)

	turns := transcript.Turns("new")
	require.Len(t, turns, 1)
	assert.Len(t, turns[0].Inbound, 1)
	assert.NotEmpty(t, turns[0].State)

	_, _, err = mgr.Start(ctx, "new")
	assert.ErrorContains(t, err, "already exists")
}

func TestManager_DecodeErrorAfterProgramChange(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	old := session.NewManager(engine(t, counterSource), store)
	_, _, err := old.Advance(ctx, "s", tick())
	require.NoError(t, err)

	changed := session.NewManager(engine(t, "define flow other\n  event tock\n"), store)
	_, _, err = changed.Advance(ctx, "s", tick())
	var de *domain.DecodeError
	require.True(t, errors.As(err, &de), "got %v", err)

	state, _, err := changed.Reset(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Turn)

	_, _, err = changed.Advance(ctx, "s", nil)
	assert.NoError(t, err)
}

func TestManager_LoadMissing(t *testing.T) {
	mgr := session.NewManager(engine(t, counterSource), memory.NewStore())
	_, err := mgr.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocks  int
	lastTTL  time.Duration
	failWith error
}

func (l *countingLocker) Lock(_ context.Context, _ string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.locks++
	l.lastTTL = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocks++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(engine(t, counterSource), memory.NewStore(),
		session.WithLocker(locker), session.WithLockTTL(5*time.Second))
	ctx := context.Background()

	_, _, err := mgr.Advance(ctx, "s", tick())
	require.NoError(t, err)
	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
	assert.Equal(t, 5*time.Second, locker.lastTTL)

	locker.failWith = errors.New("redis down")
	_, _, err = mgr.Advance(ctx, "s", tick())
	assert.ErrorContains(t, err, "distributed lock")
}

func TestManager_ObserverSeesBeforeAndAfter(t *testing.T) {
	type call struct {
		before, after *domain.State
	}
	var calls []call
	mgr := session.NewManager(engine(t, counterSource), memory.NewStore(),
		session.WithObserver(func(ctx context.Context, before, after *domain.State, out []domain.Event) {
			calls = append(calls, call{before, after})
		}))
	ctx := context.Background()

	_, _, err := mgr.Advance(ctx, "obs", tick())
	require.NoError(t, err)
	_, _, err = mgr.Advance(ctx, "obs", tick())
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].before, "first turn started the session")
	assert.Equal(t, 1.0, calls[1].before.Context["n"])
	assert.Equal(t, 2.0, calls[1].after.Context["n"])
}
