package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/guardrail/internal/compiler"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/stretchr/testify/require"
)

// Epoch is the instant returned by FixedClock.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// FixedClock always returns Epoch.
func FixedClock() time.Time { return Epoch }

// GreetSource is the canonical two-flow fixture: a greeting that asks for
// the user's name through an action, and a goodbye that outranks it.
const GreetSource = `
define user greeting
  "hello"
  "hi there"

define user goodbye
  "bye"

define bot greet back
  "Hello! Nice to meet you."

define bot farewell
  "See you soon."

define flow greet
  user greeting
  bot greet back

define flow bye
  priority 10
  user goodbye
  bot farewell
`

// SetupSourceDir writes files (name -> source) into a fresh temp directory
// and returns its absolute path. It fails the test immediately on error.
func SetupSourceDir(t *testing.T, files map[string]string) string {
	t.Helper()

	tmpDir := t.TempDir()
	absPath, err := filepath.Abs(tmpDir)
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	for name, content := range files {
		path := filepath.Join(absPath, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644), "Failed to write %s", name)
	}
	return absPath
}

// Program compiles src as a single source unit named main.co.
func Program(t *testing.T, src string) *domain.Program {
	t.Helper()
	prog, err := compiler.CompileSource(map[string][]byte{"main.co": []byte(src)})
	require.NoError(t, err)
	return prog
}

// Interpreter builds a deterministic interpreter for src. Extra options
// are applied after the fixed clock, sequential ids and first-sample choice.
func Interpreter(t *testing.T, src string, opts ...runtime.Option) *runtime.Interpreter {
	t.Helper()
	base := []runtime.Option{
		runtime.WithClock(FixedClock),
		runtime.WithIDGenerator(runtime.SequentialIDs("e")),
		runtime.WithSampleChooser(runtime.FirstSample),
	}
	in, err := runtime.New(Program(t, src), append(base, opts...)...)
	require.NoError(t, err)
	return in
}
