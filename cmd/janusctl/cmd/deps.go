package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/store"
)

type depsOptions struct {
	format string // "tree", "compact", "dot", "mermaid"
}

func newDepsCmd() *cobra.Command {
	opts := &depsOptions{}
	cmd := &cobra.Command{
		Use:   "deps <ticket-id>",
		Short: "Render the dependency tree or graph rooted at a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "tree", "Output format: tree, compact, dot, mermaid")
	return cmd
}

func runDeps(cmd *cobra.Command, rootID string, opts *depsOptions) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.EnsureSynced(ctx); err != nil {
		return err
	}

	switch opts.format {
	case "dot":
		dot, err := s.ReachableGraphDOT(ctx, rootID)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), dot)
		return nil
	case "mermaid":
		mermaid, err := s.ReachableGraphMermaid(ctx, rootID)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), mermaid)
		return nil
	case "compact":
		tree, err := s.DependencyTree(ctx, rootID, store.TreeCompact)
		if err != nil {
			return err
		}
		printTree(cmd, tree, 0)
		return nil
	default:
		tree, err := s.DependencyTree(ctx, rootID, store.TreeFull)
		if err != nil {
			return err
		}
		printTree(cmd, tree, 0)
		return nil
	}
}

func printTree(cmd *cobra.Command, node store.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	suffix := ""
	if node.Cyclic {
		suffix = " (cycle)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s\n", indent, node.ID, suffix)
	for _, child := range node.Children {
		printTree(cmd, child, depth+1)
	}
}
