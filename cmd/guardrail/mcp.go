package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/cli"
	"github.com/aretw0/guardrail/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = withDirArg(&cobra.Command{
	Use:   "mcp [dir]",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts guardrail as an MCP Server so AI agents can run dialog turns,
validate source and inspect the flows as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		// Logs must stay off Stdout, which carries JSON-RPC under stdio.
		logger := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())

		catalog, err := cli.BuildRegistry(cfg, logger)
		if err != nil {
			return err
		}
		engine, err := cli.BuildEngine(cfg, catalog, logger)
		if err != nil {
			return err
		}

		srv := mcp.NewServer(engine, guardrail.Version,
			mcp.WithLogger(logger),
			mcp.WithMaxInputSize(cfg.Limits.MaxInputSize),
		)

		switch transport {
		case "stdio":
			logger.Info("Starting guardrail MCP Server (Stdio)")
			return srv.ServeStdio()
		case "sse":
			sigCtx := cli.NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()

			if err := srv.ServeSSE(sigCtx, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("MCP server failed: %w", err)
			}
			logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
})

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
