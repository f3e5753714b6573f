package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/guardrail/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, and remove sessions held by the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer p.Close()

		sessions, err := p.Store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		fmt.Fprintln(out, "Sessions:")
		for _, s := range sessions {
			fmt.Fprintln(out, "- "+s)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the stored state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		p, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer p.Close()

		data, err := p.Store.Load(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("load session '%s': %w", sessionID, err)
		}

		// Pretty print JSON
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("session '%s' is not a JSON document: %w", sessionID, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), buf.String())
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer p.Close()

		if all, _ := cmd.Flags().GetBool("all"); all {
			if args, err = p.Store.List(cmd.Context()); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, sessionID := range args {
			if err := p.Store.Delete(cmd.Context(), sessionID); err != nil {
				errs = append(errs, fmt.Errorf("remove '%s': %w", sessionID, err))
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", sessionID)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionRmCmd.Flags().Bool("all", false, "Remove every stored session")
}

func openStore(cmd *cobra.Command) (*cli.Persistence, error) {
	return cli.BuildPersistence(cfg.Store, cli.NewLogger(cfg.Log, cmd.ErrOrStderr()))
}
