package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/output"
)

type searchOptions struct {
	k         int
	threshold float32
	json      bool
}

func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over cached ticket embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.k, "k", 10, "Maximum number of results")
	cmd.Flags().Float32Var(&opts.threshold, "threshold", 0, "Minimum cosine similarity (0 disables filtering)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Emit results as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts *searchOptions) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.EnsureSynced(ctx); err != nil {
		return err
	}

	queryVec, err := s.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	results, err := s.SemanticSearch(ctx, queryVec, opts.k, opts.threshold)
	if err != nil {
		return err
	}

	if opts.json {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("", "no matches")
		return nil
	}
	for _, r := range results {
		out.Statusf("", "%.3f  %-10s %s", r.Similarity, r.Ticket.ID, r.Ticket.Title)
	}
	return nil
}
