package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/guardrail/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "guardrail version ")
}

func TestCompileCommand(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": testutils.GreetSource})

	out, err := execute(t, "compile", "--dir", dir, "--store", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "FLOW")
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "bye")
}

func TestValidateCommand(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": `
define flow f
  user ask
  bot "ok"
`})

	out, err := execute(t, "validate", "--dir", dir, "--store", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "intent_without_samples")

	_, err = execute(t, "validate", "--dir", dir, "--store", "memory", "--strict")
	assert.ErrorContains(t, err, "found 1 problems")
}

func TestGraphCommand(t *testing.T) {
	dir := testutils.SetupSourceDir(t, map[string]string{"main.co": testutils.GreetSource})

	out, err := execute(t, "graph", "--dir", dir, "--store", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `subgraph f0["greet"]`)
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "session", "ls", "--dir", dir, "--store", "file", "--store-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	_, err = execute(t, "session", "inspect", "missing", "--dir", dir, "--store", "file", "--store-dir", dir)
	assert.Error(t, err)
}
