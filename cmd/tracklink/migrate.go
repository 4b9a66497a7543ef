package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tracklink/internal/journal"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	open := func(cmd *cobra.Command) (*journal.Journal, error) {
		cfg := g.cfg
		overrideString(cmd, "journal", &cfg.JournalPath)
		return journal.Open(cfg.GetJournalPath())
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the journal schema",
	}
	cmd.PersistentFlags().String("journal", "tracklink.db", "SQLite journal path")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				j, err := open(cmd)
				if err != nil {
					return err
				}
				defer j.Close()
				return j.MigrateUp()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				j, err := open(cmd)
				if err != nil {
					return err
				}
				defer j.Close()
				return j.MigrateDown()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				j, err := open(cmd)
				if err != nil {
					return err
				}
				defer j.Close()
				v, dirty, err := j.MigrateVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				j, err := open(cmd)
				if err != nil {
					return err
				}
				defer j.Close()
				return j.MigrateForce(v)
			},
		},
	)
	return cmd
}
