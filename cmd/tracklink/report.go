package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tracklink/internal/journal"
	"github.com/banshee-data/tracklink/internal/report"
)

func newReportCmd(g *globalOptions) *cobra.Command {
	var (
		limit    int
		plotPath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize tracking error from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			overrideString(cmd, "journal", &cfg.JournalPath)

			j, err := journal.Open(cfg.GetJournalPath())
			if err != nil {
				return err
			}
			defer j.Close()
			if err := j.MigrateUp(); err != nil {
				return err
			}

			samples, sum, err := report.FromJournal(j, limit)
			if err != nil {
				return err
			}
			if plotPath != "" {
				if err := report.SavePlot(samples, plotPath); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			return sum.WriteText(out)
		},
	}

	f := cmd.Flags()
	f.String("journal", "tracklink.db", "SQLite journal path")
	f.IntVar(&limit, "limit", 0, "only use the most recent N samples (0 = all)")
	f.StringVar(&plotPath, "plot", "", "write an error plot to this file (.png, .svg, .pdf)")
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}
