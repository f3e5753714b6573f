package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/guardrail"
	"github.com/spf13/cobra"
)

var compileCmd = withDirArg(&cobra.Command{
	Use:   "compile [dir]",
	Short: "Compile the flows and print the result",
	Long:  `Parses and compiles every .co file of a directory. Prints a flow table, or the compiled program with --json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		engine, err := guardrail.New(cfg.Sources)
		if err != nil {
			return err
		}
		program := engine.Program()
		out := cmd.OutOrStdout()

		if asJSON {
			data, err := json.MarshalIndent(program, "", "  ")
			if err != nil {
				return fmt.Errorf("encode program: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FLOW\tPRIORITY\tMODE\tELEMENTS\tSOURCE")
		for _, f := range program.Summaries() {
			mode := "active"
			switch {
			case f.IsExtension:
				mode = "extension"
			case !f.Activated:
				mode = "inactive"
			}
			fmt.Fprintf(tw, "%s\t%g\t%s\t%d\t%s:%d\n", f.Name, f.Priority, mode, f.Elements, f.Source, f.Line)
		}
		return tw.Flush()
	},
})

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().Bool("json", false, "Print the compiled program as JSON")
}
