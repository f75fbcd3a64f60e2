// Package cmd provides the janusctl CLI commands.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/config"
	"github.com/janus-dev/janus-cache/internal/embedder"
	"github.com/janus-dev/janus-cache/internal/itemparser"
	"github.com/janus-dev/janus-cache/internal/logging"
	"github.com/janus-dev/janus-cache/internal/store"
	"github.com/janus-dev/janus-cache/pkg/version"
)

var (
	repoFlag  string
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the janusctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "janusctl",
		Short: "Exercise the janus cache and semantic index from the command line",
		Long: `janusctl drives the janus content-addressed metadata cache and
semantic index over a directory of ticket/plan Markdown files.

It is a thin demonstrator: the real surface is the Store facade in
internal/store, which a host tracker CLI is expected to embed directly.`,
		Version:           version.Version,
		PersistentPreRunE: startLogging,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			stopLogging()
			return nil
		},
	}
	cmd.SetVersionTemplate("janusctl version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "Repository root containing .janus/")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Write rotating debug logs under the janus log directory")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDepsCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// startLogging enables rotating file-based logging when --debug is set,
// mirroring the default-is-minimal / --debug-is-verbose split documented
// in internal/logging. Without --debug, openStore builds its own
// stderr-only handler instead.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

// stopLogging flushes and closes the debug log file, if one was opened.
func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// openStore resolves the repository root from --repo, loads config, and
// opens a Store wired with the reference item parser and the
// dependency-free StaticEmbedder (a real deployment supplies its own
// Embedder over the tracker's configured model). It does not sync —
// callers that need current data call EnsureSynced themselves; the
// sync and rebuild commands instead call Sync/Rebuild directly so their
// reported counts reflect the reconciliation they actually triggered.
func openStore(ctx context.Context) (*store.Store, error) {
	root, err := config.FindProjectRoot(repoFlag)
	if err != nil {
		root = repoFlag
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	if !debugMode {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logging.LevelFromString(cfg.LogLevel),
		}))
	}

	return store.Open(root, cfg, embedder.NewStaticEmbedder(), itemparser.ParseItem, logger)
}
