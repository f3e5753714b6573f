package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Sources)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, StoreFile, cfg.Store.Type)
	assert.Equal(t, ".guardrail", cfg.Store.Dir)
	assert.Equal(t, MatcherSamples, cfg.Intent.Matcher)
	assert.Equal(t, 1000, cfg.Limits.MaxEventsPerTurn)
	assert.Equal(t, 5*time.Second, cfg.Intent.Timeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "custom.yaml", `
sources: flows
log:
  level: debug
  format: json
store:
  type: redis
  cache_ttl: 30s
  redis:
    addr: redis:6379
    ttl: 1h
limits:
  max_events_per_turn: 50
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "flows", cfg.Sources)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, StoreRedis, cfg.Store.Type)
	assert.Equal(t, 30*time.Second, cfg.Store.CacheTTL)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, 50, cfg.Limits.MaxEventsPerTurn)
	// untouched keys keep their defaults
	assert.Equal(t, 10000, cfg.Limits.MaxStepsPerHead)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "guardrail.yaml", "store:\n  type: memory\nlog:\n  level: warn\n")
	t.Setenv("GUARDRAIL_LOG_LEVEL", "error")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("store", "file", "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--store=redis"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store.Type, "explicit flag beats the file")
	assert.Equal(t, "error", cfg.Log.Level, "env beats the file when the flag is unset")
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "bad store", mutate: func(c *Config) { c.Store.Type = "sqlite" }, wantErr: "unknown store"},
		{name: "bad matcher", mutate: func(c *Config) { c.Intent.Matcher = "llm" }, wantErr: "unknown intent matcher"},
		{name: "remote without url", mutate: func(c *Config) { c.Intent.Matcher = MatcherRemote }, wantErr: "intent.url"},
		{name: "zero limits", mutate: func(c *Config) { c.Limits.MaxStepsPerHead = 0 }, wantErr: "positive"},
		{name: "short key", mutate: func(c *Config) { c.Store.EncryptionKey = "c2hvcnQ=" }, wantErr: "32 bytes"},
		{name: "fallback only", mutate: func(c *Config) { c.Store.FallbackKeys = []string{key} }, wantErr: "without an active"},
		{name: "valid key", mutate: func(c *Config) { c.Store.EncryptionKey = key; c.Store.FallbackKeys = []string{key} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Limits: LimitsConfig{MaxEventsPerTurn: 1, MaxStepsPerHead: 1},
				Intent: IntentConfig{Matcher: MatcherExact},
				Store:  StoreConfig{Type: StoreMemory},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreKeys(t *testing.T) {
	raw := []byte(strings.Repeat("a", 32))
	old := []byte(strings.Repeat("b", 32))
	s := StoreConfig{
		EncryptionKey: base64.StdEncoding.EncodeToString(raw),
		FallbackKeys:  []string{base64.StdEncoding.EncodeToString(old)},
	}
	active, fallback, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, raw, active)
	assert.Equal(t, [][]byte{old}, fallback)

	active, fallback, err = StoreConfig{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Nil(t, fallback)
}
