package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Invoke(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Action{
		Name:   "add",
		Params: schema.Schema{"a": schema.Int(), "b": schema.Int()},
		Fn: func(_ context.Context, p map[string]any) (any, error) {
			return int(p["a"].(float64) + p["b"].(float64)), nil
		},
	})
	ctx := context.Background()

	res, err := reg.Invoke(ctx, "add", map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res, "results are normalized")

	_, err = reg.Invoke(ctx, "add", map[string]any{"a": 2.0})
	assert.ErrorContains(t, err, `parameter "b": required`)

	_, err = reg.Invoke(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	assert.True(t, reg.Has("add"))
	assert.False(t, reg.Has("nope"))
}

func TestRegistry_Timeout(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Action{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Fn: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	_, err := reg.Invoke(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTyped(t *testing.T) {
	type order struct {
		ID    int      `mapstructure:"id"`
		Items []string `mapstructure:"items"`
	}
	reg := NewRegistry()
	reg.Register("count", Typed(func(_ context.Context, o order) (map[string]any, error) {
		if o.ID == 0 {
			return nil, errors.New("missing id")
		}
		return map[string]any{"id": o.ID, "count": len(o.Items)}, nil
	}))

	res, err := reg.Invoke(context.Background(), "count", map[string]any{"id": 7.0, "items": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 7.0, "count": 2.0}, res)

	_, err = reg.Invoke(context.Background(), "count", map[string]any{})
	assert.EqualError(t, err, "missing id")
}

func TestManifest_Build(t *testing.T) {
	m, err := ParseManifest([]byte(`
actions:
  - name: echo
    kind: static
    description: Returns its input
    timeout: 2s
    params:
      text: string
    config:
      prefix: ">> "
`))
	require.NoError(t, err)
	require.Len(t, m.Actions, 1)

	static := func(spec Spec) (ActionFunc, error) {
		prefix, _ := spec.Config["prefix"].(string)
		return func(_ context.Context, p map[string]any) (any, error) {
			return prefix + p["text"].(string), nil
		}, nil
	}

	reg := NewRegistry()
	require.NoError(t, reg.Build(m, map[string]Factory{"static": static}))

	a, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, a.Timeout)
	assert.Equal(t, "Returns its input", a.Description)

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, ">> hi", res)

	err = NewRegistry().Build(m, map[string]Factory{})
	assert.ErrorContains(t, err, `unknown kind "static"`)

	_, err = ParseManifest([]byte("actions:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate")
}
