package main

import (
	"fmt"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/cli"
	"github.com/aretw0/guardrail/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = withDirArg(&cobra.Command{
	Use:   "validate [dir]",
	Short: "Check the flows for mistakes",
	Long: `Compiles the flows and lints them: unreachable elements, unused labels,
intents without samples, bot messages without texts, and actions missing from
the action manifest. Findings are warnings unless --strict is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		out := cmd.OutOrStdout()
		logger := cli.NewLogger(cfg.Log, cmd.ErrOrStderr())

		engine, err := guardrail.New(cfg.Sources)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		catalog, err := cli.BuildRegistry(cfg, logger)
		if err != nil {
			return err
		}

		var opts []validator.Option
		if len(catalog.Actions()) > 0 {
			opts = append(opts, validator.WithCatalog(catalog))
		}
		findings := validator.Validate(engine.Program(), opts...)
		for _, f := range findings {
			fmt.Fprintln(out, f.String())
		}
		if len(findings) == 0 {
			fmt.Fprintln(out, "Flows are valid!")
			return nil
		}
		if strict {
			return fmt.Errorf("found %d problems", len(findings))
		}
		return nil
	},
})

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("strict", false, "Exit with an error when any finding is reported")
}
