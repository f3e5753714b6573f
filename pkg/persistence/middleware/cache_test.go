package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/persistence/middleware"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts Load calls that reach the backend.
type countingStore struct {
	ports.StateStore
	loads   int
	failing bool
}

func (s *countingStore) Load(ctx context.Context, id string) ([]byte, error) {
	s.loads++
	return s.StateStore.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, id string, data []byte) error {
	if s.failing {
		return errors.New("backend down")
	}
	return s.StateStore.Save(ctx, id, data)
}

func TestCacheMiddleware_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, middleware.NewCacheMiddleware(time.Minute)(memory.NewStore()))
}

func TestCacheMiddleware_ServesRepeatedLoads(t *testing.T) {
	backend := &countingStore{StateStore: memory.NewStore()}
	ctx := context.Background()
	require.NoError(t, backend.StateStore.Save(ctx, "s1", []byte("v1")))

	store := middleware.NewCacheMiddleware(time.Minute)(backend)
	for i := 0; i < 3; i++ {
		data, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), data)
	}
	assert.Equal(t, 1, backend.loads)

	// A returned buffer is the caller's to mutate.
	data, _ := store.Load(ctx, "s1")
	data[0] = 'X'
	again, _ := store.Load(ctx, "s1")
	assert.Equal(t, []byte("v1"), again)
}

func TestCacheMiddleware_FailedSaveInvalidates(t *testing.T) {
	backend := &countingStore{StateStore: memory.NewStore()}
	store := middleware.NewCacheMiddleware(time.Minute)(backend)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", []byte("v1")))
	backend.failing = true
	require.Error(t, store.Save(ctx, "s1", []byte("v2")))

	data, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
	assert.Equal(t, 1, backend.loads, "invalidated entry is reloaded from the backend")
}

func TestChain_Order(t *testing.T) {
	underlying := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"secret"})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Chain(underlying, pii, enc)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", []byte(`{"context":{"secret":"x","name":"ann"}}`)))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":{"secret":"***","name":"ann"}}`, string(loaded))
}
