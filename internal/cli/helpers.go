// Package cli wires configuration, engine, stores and runner together for
// the guardrail command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/guardrail/internal/config"
	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/internal/presentation/tui"
)

// SignalContext is a context cancelled on SIGINT or SIGTERM that remembers
// which signal arrived. Cancel releases the signal handler.
type SignalContext struct {
	context.Context
	Cancel context.CancelFunc

	mu  sync.Mutex
	sig os.Signal
}

// NewSignalContext is signal.NotifyContext plus Signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{Context: ctx, Cancel: cancel}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			sc.mu.Lock()
			sc.sig = sig
			sc.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()
	return sc
}

// Signal returns the signal that cancelled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sig
}

// NewLogger builds the process logger from LogConfig. Logs go to w
// (usually Stderr) so they never interleave with the conversation or a
// JSON-RPC stream on Stdout.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	return logging.NewWithFormat(w, logging.ParseLevel(cfg.Level), cfg.Format)
}

// printSystemMessage prints a standardized system message to w.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, tui.System(w, ">>> "+fmt.Sprintf(format, args...)))
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

// handleExecutionError maps interruptions to a clean exit.
func handleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}

func logCompletion(w io.Writer, sessionID string, err error, sig os.Signal) {
	switch {
	case err == nil && sig == nil:
		printSystemMessage(w, "Session '%s' finished.", sessionID)
	case sig == os.Interrupt:
		fmt.Fprintln(w, "[CTRL+C]")
		printSystemMessage(w, "Interrupted session '%s'.", sessionID)
	case sig != nil:
		fmt.Fprintln(w)
		printSystemMessage(w, "Terminated session '%s'.", sessionID)
	}
}
