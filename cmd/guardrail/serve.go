package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/cli"
	httpAdapter "github.com/aretw0/guardrail/pkg/adapters/http"
	"github.com/aretw0/guardrail/pkg/observability"
	"github.com/aretw0/guardrail/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = withDirArg(&cobra.Command{
	Use:   "serve [dir]",
	Short: "Start the HTTP server",
	Long: `Serves the flows over HTTP: a stateless POST /advance that round-trips
the encoded state, stored sessions under /sessions, Server-Sent Events under
/events and Prometheus metrics under /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		watchMode, _ := cmd.Flags().GetBool("watch")
		logger := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observability.NewMetrics(reg)

		catalog, err := cli.BuildRegistry(cfg, logger)
		if err != nil {
			return err
		}
		engine, err := cli.BuildEngine(cfg, catalog, logger, metrics.Hooks())
		if err != nil {
			return err
		}
		persistence, err := cli.BuildPersistence(cfg.Store, logger)
		if err != nil {
			return err
		}
		defer persistence.Close()

		streams := httpAdapter.NewStreamManager(logger)
		sessions := cli.NewSessionManager(engine, persistence, logger, session.WithObserver(streams.Observe))

		handler := httpAdapter.NewHandler(engine,
			httpAdapter.WithSessions(sessions),
			httpAdapter.WithStreams(streams),
			httpAdapter.WithLogger(logger),
			httpAdapter.WithVersion(guardrail.Version),
			httpAdapter.WithMaxInputSize(cfg.Limits.MaxInputSize),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		if watchMode {
			changes, err := engine.Watch(sigCtx)
			if err != nil {
				return fmt.Errorf("watch sources: %w", err)
			}
			go func() {
				for name := range changes {
					logger.Info("Program reloaded", "unit", name)
				}
			}()
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting guardrail server", "addr", srv.Addr, "sources", cfg.Sources, "flows", len(engine.Program().Flows))
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-sigCtx.Done():
			logger.Info("Start shutdown", "signal", sigCtx.Signal())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Graceful shutdown did not complete", "timeout", 5*time.Second, "err", err)
				if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("killing server: %w", err)
				}
			}
			logger.Info("Server stopped gracefully")
			return nil
		}
	},
})

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload the flows when sources change")
}
