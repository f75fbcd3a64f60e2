package cmd

import (
	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/output"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Wipe the embedding cache and re-embed every item from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.Rebuild(ctx)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("rebuilt: %d tickets, %d plans re-embedded, %d warnings",
				report.TicketsUpdated, report.PlansUpdated, len(report.Warnings))
			for _, w := range report.Warnings {
				out.Warning(w.Message)
			}
			return nil
		},
	}
}
