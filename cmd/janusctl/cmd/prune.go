package cmd

import (
	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/output"
)

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete orphaned embedding cache files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.EnsureSynced(ctx); err != nil {
				return err
			}

			deleted, bytesFreed, err := s.Prune(ctx)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("pruned %d orphaned embeddings, freed %d bytes", deleted, bytesFreed)
			return nil
		},
	}
}
