package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/guardrail/pkg/registry"
)

// ArgPrefix prefixes the environment variables that carry action params.
const ArgPrefix = "GUARDRAIL_ARG_"

// Runner executes local processes as actions.
// It follows a Strict Registry pattern for security (Allow-Listing): only
// registered commands run, and params never reach the command line.
type Runner struct {
	mu       sync.RWMutex
	registry map[string]RegisteredProcess
	baseDir  string
	grace    time.Duration
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets how long an interrupted process may take to exit.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
		grace:    DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted script/command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.RegisterProcess(name, RegisteredProcess{Command: command, Args: args})
}

// RegisterProcess adds a fully described command to the allow-list.
func (r *Runner) RegisterProcess(name string, proc RegisteredProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[name] = proc
}

// Action adapts the named process to a registry.ActionFunc.
func (r *Runner) Action(name string) registry.ActionFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return r.Run(ctx, name, params)
	}
}

// Run executes the named process. Params are passed as GUARDRAIL_ARG_<NAME>
// environment variables. Stdout is the result, decoded when it is JSON.
//
// When ctx is done the process receives an interrupt and is killed if it
// has not exited after the grace period.
func (r *Runner) Run(ctx context.Context, name string, params map[string]any) (any, error) {
	r.mu.RLock()
	proc, ok := r.registry[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("process not registered: %s", name)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	if proc.Dir != "" {
		cmd.Dir = proc.Dir
	}
	if runtime.GOOS != "windows" {
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	}
	cmd.WaitDelay = r.grace
	cmd.Env = append(cmd.Environ(), environment(proc.Env, params)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("process %s cancelled: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("process %s failed: %v: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return decodeOutput(stdout.String()), nil
}

func environment(static map[string]string, params map[string]any) []string {
	env := make([]string, 0, len(static)+len(params))
	for k, v := range static {
		env = append(env, k+"="+v)
	}
	for k, v := range params {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, ArgPrefix+strings.ToUpper(k)+"="+val)
	}
	sort.Strings(env)
	return env
}

// decodeOutput returns JSON output as a value and anything else as a
// trimmed string.
func decodeOutput(out string) any {
	trimmed := strings.TrimSpace(out)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
