package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/config"
	"github.com/aretw0/guardrail/internal/presentation/tui"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/runner"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	Config    *config.Config
	SessionID string
	JSON      bool
	Watch     bool
	Fresh     bool
	Confirm   bool
	Allow     []string
	Style     string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o *RunOptions) defaults() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Watch && o.SessionID == "" {
		o.SessionID = watchSessionID(o.Config.Sources)
	}
}

// Execute runs an interactive (or JSON Lines) session until input ends or
// the process is interrupted. With Watch, source edits are compiled and put
// in service without restarting the session.
func Execute(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("run: no configuration")
	}
	if opts.Watch && opts.JSON {
		return errors.New("--watch and --json cannot be used together")
	}
	opts.defaults()
	cfg := opts.Config
	logger := NewLogger(cfg.Log, opts.Stderr)

	catalog, err := BuildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := BuildEngine(cfg, catalog, logger)
	if err != nil {
		return err
	}
	persistence, err := BuildPersistence(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer persistence.Close()
	sessions := NewSessionManager(engine, persistence, logger)

	sigCtx := NewSignalContext(ctx)
	defer sigCtx.Cancel()

	if opts.Fresh && opts.SessionID != "" {
		if err := sessions.Delete(sigCtx, opts.SessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("reset session: %w", err)
		}
	}

	handler, err := newHandler(opts, cfg)
	if err != nil {
		return err
	}

	r := runner.NewRunner(
		runner.WithSessions(sessions),
		runner.WithSessionID(opts.SessionID),
		runner.WithLogger(logger),
		runner.WithInputHandler(handler),
		runner.WithDispatcher(catalog),
	)
	var interceptors []runner.ActionInterceptor
	if len(opts.Allow) > 0 {
		interceptors = append(interceptors, runner.AllowListMiddleware(opts.Allow...))
	}
	if opts.Confirm {
		interceptors = append(interceptors, runner.ConfirmationMiddleware(r))
	}
	if len(interceptors) > 0 {
		r.Interceptor = runner.MultiInterceptor(interceptors...)
	}

	if !opts.JSON {
		tui.PrintBanner(opts.Stdout)
		printSystemMessage(opts.Stdout, "guardrail %s, %d flows loaded.", guardrail.Version, len(engine.Program().Flows))
	}
	if opts.Watch {
		if err := watchReloads(sigCtx, engine, handler, logger); err != nil {
			return err
		}
		printSystemMessage(opts.Stdout, "Watching '%s' for changes (session '%s').", cfg.Sources, opts.SessionID)
	}

	runErr := r.Run(sigCtx)
	if sigCtx.Err() != nil && runErr == nil {
		runErr = sigCtx.Err()
	}
	if !opts.JSON {
		logCompletion(opts.Stdout, r.SessionID, runErr, sigCtx.Signal())
	}
	return handleExecutionError(runErr)
}

func newHandler(opts RunOptions, cfg *config.Config) (runner.IOHandler, error) {
	if opts.JSON {
		h := runner.NewJSONHandler(opts.Stdin, opts.Stdout)
		h.MaxInputSize = cfg.Limits.MaxInputSize
		return h, nil
	}
	render, err := tui.NewRenderer(opts.Style)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}
	return runner.NewTextHandler(opts.Stdin, opts.Stdout,
		runner.WithTextHandlerRenderer(render),
		runner.WithTextHandlerMaxInputSize(cfg.Limits.MaxInputSize),
	), nil
}
