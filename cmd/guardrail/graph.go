package main

import (
	"fmt"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/cli"
	"github.com/aretw0/guardrail/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = withDirArg(&cobra.Command{
	Use:   "graph [dir]",
	Short: "Export the flow graph visualization",
	Long: `Compiles the flows and outputs a Mermaid diagram (graph TD) with one
subgraph per flow. With --session, the positions of that session's live heads
are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		engine, err := guardrail.New(cfg.Sources)
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if sessionID != "" {
			logger := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())
			p, err := cli.BuildPersistence(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer p.Close()
			state, err := cli.NewSessionManager(engine, p, logger).Load(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("load session %s: %w", sessionID, err)
			}
			overlay = graph.OverlayFromState(engine.Program(), state)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(engine.Program(), overlay))
		return nil
	},
})

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the heads of a stored session")
}
