package cmd

import (
	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/output"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the cache with items/ and plans/ on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.Sync(ctx)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("tickets: +%d ~%d -%d  plans: +%d ~%d -%d  warnings: %d",
				report.TicketsCreated, report.TicketsUpdated, report.TicketsDeleted,
				report.PlansCreated, report.PlansUpdated, report.PlansDeleted, len(report.Warnings))
			for _, w := range report.Warnings {
				out.Warning(w.Message)
			}
			return nil
		},
	}
	return cmd
}
