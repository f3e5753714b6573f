package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/guardrail/internal/testutils"
	"github.com/aretw0/guardrail/internal/validator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(testutils.Interpreter(t, testutils.GreetSource), "test")
}

func TestHandleAdvance_Conversation(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	first, err := s.handleAdvance(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "m1",
		"text":       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello! Nice to meet you."}, first.Utterances)

	second, err := s.handleAdvance(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"state":  string(first.State),
		"events": `[{"kind":"UserIntentDetected","payload":{"intent":"goodbye"}}]`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"See you soon."}, second.Utterances)
	assert.Equal(t, "m1", second.SessionID)
}

func TestHandleAdvance_Rejections(t *testing.T) {
	s := NewServer(testutils.Interpreter(t, testutils.GreetSource), "test", WithMaxInputSize(4))
	ctx := context.Background()

	_, err := s.handleAdvance(ctx, mcp.CallToolRequest{}, map[string]interface{}{"text": "hi"})
	assert.ErrorContains(t, err, "session_id is required")

	_, err = s.handleAdvance(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "x", "text": "far too long"})
	assert.ErrorContains(t, err, "input rejected")

	_, err = s.handleAdvance(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "x", "events": "not json"})
	assert.ErrorContains(t, err, "invalid events")
}

func TestHandleValidate(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	ok, err := s.handleValidate(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"source": "define flow f\n  user ask\n  bot \"ok\"\n",
	})
	require.NoError(t, err)
	assert.True(t, ok.Valid)
	require.Len(t, ok.Flows, 1)
	require.Len(t, ok.Findings, 1)
	assert.Equal(t, validator.RuleIntentNoSamples, ok.Findings[0].Rule)

	bad, err := s.handleValidate(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"source": "define flow f\n  goto nowhere\n",
		"name":   "broken.co",
	})
	require.NoError(t, err)
	assert.False(t, bad.Valid)
	assert.Contains(t, bad.Error, "broken.co")
}

func TestToolsList(t *testing.T) {
	s := newServer(t)
	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"advance", "validate_source", "list_flows", "get_graph"}, names)
}
