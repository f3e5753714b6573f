package main

import (
	"github.com/aretw0/guardrail/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = withDirArg(&cobra.Command{
	Use:   "run [dir]",
	Short: "Chat with the flows in a terminal",
	Long: `Starts an interactive session against the flows of a directory.

Lines are user utterances. Slash commands inject other events:
/event NAME, /start FLOW, /stop FLOW, /quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		jsonMode, _ := cmd.Flags().GetBool("json")
		watchMode, _ := cmd.Flags().GetBool("watch")
		fresh, _ := cmd.Flags().GetBool("fresh")
		confirm, _ := cmd.Flags().GetBool("confirm")
		allow, _ := cmd.Flags().GetStringSlice("allow")
		style, _ := cmd.Flags().GetString("style")

		return cli.Execute(cmd.Context(), cli.RunOptions{
			Config:    cfg,
			SessionID: sessionID,
			JSON:      jsonMode,
			Watch:     watchMode,
			Fresh:     fresh,
			Confirm:   confirm,
			Allow:     allow,
			Style:     style,
			Stdin:     cmd.InOrStdin(),
			Stdout:    cmd.OutOrStdout(),
			Stderr:    cmd.ErrOrStderr(),
		})
	},
})

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("session", "s", "", "Session id to create or resume (default random)")
	runCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	runCmd.Flags().BoolP("watch", "w", false, "Reload the flows when sources change")
	runCmd.Flags().Bool("fresh", false, "Discard the stored session before starting")
	runCmd.Flags().Bool("confirm", false, "Ask before every action runs")
	runCmd.Flags().StringSlice("allow", nil, "Only allow these actions to run")
	runCmd.Flags().String("style", "", "Glamour style for bot messages (default auto)")
}
