package main

import (
	"fmt"
	"os"

	"github.com/aretw0/guardrail/internal/config"
	"github.com/spf13/cobra"
)

// dirArgAnnotation marks commands whose first positional argument is the
// sources directory.
const dirArgAnnotation = "dir-arg"

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Guardrail runs event-driven dialog flows",
	Long: `Guardrail compiles dialog flows written in a small indentation-based
language and runs them against conversation events: interactively, over
HTTP, or as an MCP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[dirArgAnnotation] == "true" && len(args) > 0 && !cmd.Flags().Changed("dir") {
			v.Set("sources", args[0])
		}
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./guardrail.yaml)")
	pf.String("dir", ".", "Directory containing the .co sources")
	pf.String("actions", "", "Action manifest (default <dir>/actions.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("matcher", config.MatcherSamples, "Intent matcher: exact, samples or remote")
	pf.Float64("threshold", 0.5, "Minimum score of the samples matcher")
	pf.String("intent-url", "", "Classification endpoint of the remote matcher")
	pf.String("store", config.StoreFile, "Session store: memory, file or redis")
	pf.String("store-dir", ".guardrail", "Directory of the file store")
	pf.String("redis-addr", "localhost:6379", "Redis address")
	pf.String("redis-password", "", "Redis password")
	pf.Int("redis-db", 0, "Redis database")
	pf.Bool("redis-lock", false, "Serialize turns across replicas with a Redis lock")
	pf.Duration("cache-ttl", 0, "Cache loaded sessions in memory for this long")
	pf.Bool("transcript", false, "Record every turn to a transcript")
	pf.Int("max-input-size", 4096, "Maximum accepted utterance size in bytes")
}

// withDirArg lets cmd take the sources directory as its first argument.
func withDirArg(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[dirArgAnnotation] = "true"
	cmd.Args = cobra.MaximumNArgs(1)
	return cmd
}
