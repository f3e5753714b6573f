package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/guardrail/pkg/adapters/webhook"
	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	t.Setenv("ORDERS_TOKEN", "t0k")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"order": body["id"], "status": "shipped"})
	}))
	defer srv.Close()

	fn, err := webhook.New(nil, webhook.Config{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer ${ORDERS_TOKEN}"},
	})
	require.NoError(t, err)

	out, err := fn(context.Background(), map[string]any{"id": 7.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"order": 7.0, "status": "shipped"}, out)
}

func TestGetUsesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ann", r.URL.Query().Get("name"))
		assert.Equal(t, "3", r.URL.Query().Get("n"))
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	fn, err := webhook.New(nil, webhook.Config{Method: "get", URL: srv.URL})
	require.NoError(t, err)

	out, err := fn(context.Background(), map[string]any{"name": "ann", "n": 3.0})
	require.NoError(t, err)
	assert.Equal(t, webhook.Output{StatusCode: http.StatusOK, Body: "plain text"}, out)
}

func TestErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	fn, err := webhook.New(nil, webhook.Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = fn(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFactoryValidation(t *testing.T) {
	factory := webhook.Factory(nil)

	_, err := factory(registry.Spec{Name: "a", Kind: webhook.Kind, Config: map[string]any{}})
	assert.Error(t, err, "url is required")

	_, err = factory(registry.Spec{Name: "a", Kind: webhook.Kind, Config: map[string]any{"url": "http://x", "method": "TRACE"}})
	assert.Error(t, err)

	_, err = factory(registry.Spec{Name: "a", Kind: webhook.Kind, Config: map[string]any{"url": "http://x", "max_retries": 2}})
	assert.NoError(t, err)
}
