package process

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestRunner_Run(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner()
	ctx := context.Background()

	t.Run("Executes Registered Command", func(t *testing.T) {
		r.Register("hello", "echo", "hello")
		out, err := r.Run(ctx, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("Fails For Unregistered Command", func(t *testing.T) {
		_, err := r.Run(ctx, "hacker_script", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("Passes Params via Env Vars", func(t *testing.T) {
		r.Register("echo_env", "sh", "-c", "echo $GUARDRAIL_ARG_MSG")
		out, err := r.Run(ctx, "echo_env", map[string]any{"msg": "SecretMessage; rm -rf /"})
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage; rm -rf /", out)
	})

	t.Run("Decodes JSON Output", func(t *testing.T) {
		r.Register("json", "sh", "-c", `echo '{"id": 7, "tags": ["a"]}'`)
		out, err := r.Run(ctx, "json", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": 7.0, "tags": []any{"a"}}, out)
	})

	t.Run("Reports Exit Status And Stderr", func(t *testing.T) {
		r.Register("crashy", "sh", "-c", "echo 'Something went terribly wrong' >&2; exit 123")
		_, err := r.Run(ctx, "crashy", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit status 123")
		assert.Contains(t, err.Error(), "Something went terribly wrong")
	})
}

func TestRunner_CancelInterruptsProcess(t *testing.T) {
	skipOnWindows(t)
	r := NewRunner(WithGracePeriod(2 * time.Second))
	r.Register("good_citizen", "sh", "-c", "trap 'exit 0' INT; sleep 10 & wait")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "good_citizen", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFactory(t *testing.T) {
	skipOnWindows(t)
	runner := NewRunner()
	reg := registry.NewRegistry()

	m, err := registry.ParseManifest([]byte(`
actions:
  - name: greet_user
    kind: process
    params:
      name: string
    config:
      command: sh
      args: ["-c", "echo hi $GUARDRAIL_ARG_NAME from $REGION"]
      env:
        REGION: eu
`))
	require.NoError(t, err)
	require.NoError(t, reg.Build(m, map[string]registry.Factory{Kind: Factory(runner)}))

	out, err := reg.Invoke(context.Background(), "greet_user", map[string]any{"name": "ann"})
	require.NoError(t, err)
	assert.Equal(t, "hi ann from eu", out)

	_, err = Factory(runner)(registry.Spec{Name: "bad", Kind: Kind})
	assert.Error(t, err)
}
