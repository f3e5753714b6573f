package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrompter struct {
	answer   string
	err      error
	question string
}

func (p *stubPrompter) Ask(ctx context.Context, question string) (string, error) {
	p.question = question
	return p.answer, p.err
}

func TestConfirmationMiddleware(t *testing.T) {
	action := domain.StartAction{ActionID: "a1", Name: "delete_db", Params: map[string]any{"force": true}}

	tests := []struct {
		answer  string
		allowed bool
	}{
		{"y", true},
		{" YES ", true},
		{"n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			p := &stubPrompter{answer: tt.answer}
			allowed, reason, err := ConfirmationMiddleware(p)(context.Background(), action)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
			assert.Contains(t, p.question, "delete_db")
			if !tt.allowed {
				assert.Contains(t, reason, "denied")
			}
		})
	}
}

func TestConfirmationMiddleware_PromptError(t *testing.T) {
	p := &stubPrompter{err: errors.New("closed")}
	allowed, _, err := ConfirmationMiddleware(p)(context.Background(), domain.StartAction{Name: "x"})
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestMultiInterceptor(t *testing.T) {
	calls := 0
	counting := func(ctx context.Context, a domain.StartAction) (bool, string, error) {
		calls++
		return true, "", nil
	}

	chain := MultiInterceptor(counting, AllowListMiddleware("read"), counting)

	allowed, _, err := chain(context.Background(), domain.StartAction{Name: "read"})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, calls)

	allowed, reason, err := chain(context.Background(), domain.StartAction{Name: "write"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Contains(t, reason, `"write"`)
	assert.Equal(t, 3, calls, "the chain stops at the first veto")
}

func TestAutoApproveMiddleware(t *testing.T) {
	allowed, _, err := AutoApproveMiddleware()(context.Background(), domain.StartAction{Name: "anything"})
	require.NoError(t, err)
	assert.True(t, allowed)
}
