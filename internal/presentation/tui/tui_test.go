package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	// A buffer is not a terminal, so no escape codes are emitted.
	assert.NotContains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), `|___/`)
}

func TestSystem_PlainOutsideTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, "hello", System(&buf, "hello"))
}

func TestNewRenderer(t *testing.T) {
	render, err := NewRenderer("notty")
	require.NoError(t, err)

	out, err := render("Hello **Ann**")
	require.NoError(t, err)
	assert.Contains(t, strings.TrimSpace(out), "Ann")
}
