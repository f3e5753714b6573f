package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/persistence/middleware"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func encrypted(t *testing.T, store ports.StateStore, cfg middleware.EncryptionConfig) ports.StateStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(store)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()
	plain := []byte(`{"context":{"secret":"my-secret-sauce"}}`)

	require.NoError(t, secure.Save(ctx, "s1", plain))

	stored, err := underlying.Load(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "my-secret-sauce")
	assert.Contains(t, string(stored), "__encrypted__")

	loaded, err := secure.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, plain, loaded)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	require.NoError(t, encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: oldKey}).Save(ctx, "s1", []byte("old")))

	rotated := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	loaded, err := rotated.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), loaded)

	// Without the fallback the old ciphertext is unreadable.
	_, err = encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey}).Load(ctx, "s1")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_BoundToSession(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	require.NoError(t, secure.Save(ctx, "alice", []byte("alice's state")))
	stolen, err := underlying.Load(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, underlying.Save(ctx, "mallory", stolen))

	_, err = secure.Load(ctx, "mallory")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_RejectsPlainData(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	require.NoError(t, underlying.Save(ctx, "s1", []byte(`{"version":1}`)))
	_, err := secure.Load(ctx, "s1")
	assert.ErrorIs(t, err, middleware.ErrNotEncrypted)
}

func TestEncryptionMiddleware_KeyLength(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.Error(t, err)
}
