package middleware_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	state := []byte(`{
		"version": 1,
		"session_id": "pii",
		"context": {
			"username": "jdoe",
			"user_password": "secret123",
			"details": {"address": "123 St", "ssn_number": "999-99-9999"},
			"contacts": [{"ssn": "111"}]
		}
	}`)
	original := append([]byte(nil), state...)
	require.NoError(t, store.Save(ctx, "pii", state))
	assert.Equal(t, original, state, "caller's buffer must not be modified")

	stored, err := underlying.Load(ctx, "pii")
	require.NoError(t, err)

	var doc struct {
		SessionID string         `json:"session_id"`
		Context   map[string]any `json:"context"`
	}
	require.NoError(t, json.Unmarshal(stored, &doc))
	assert.Equal(t, "pii", doc.SessionID)
	assert.Equal(t, "jdoe", doc.Context["username"])
	assert.Equal(t, middleware.Mask, doc.Context["user_password"])

	details := doc.Context["details"].(map[string]any)
	assert.Equal(t, "123 St", details["address"])
	assert.Equal(t, middleware.Mask, details["ssn_number"])

	contacts := doc.Context["contacts"].([]any)
	assert.Equal(t, middleware.Mask, contacts[0].(map[string]any)["ssn"])
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestPIIMiddleware_RejectsNonJSON(t *testing.T) {
	mw, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	assert.Error(t, mw(memory.NewStore()).Save(context.Background(), "s", []byte("raw")))
}
