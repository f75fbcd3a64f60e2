package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/janus-dev/janus-cache/internal/config"
	"github.com/janus-dev/janus-cache/internal/output"
)

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
}

type doctorJSON struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the cache's health for the current repository",
		Long: `Run diagnostics against the janus cache for the current repository:

  - project root resolution
  - database open and schema version
  - sync reconciliation
  - embedding coverage
  - accumulated warnings

Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx := cmd.Context()
	var checks []checkResult

	root, err := config.FindProjectRoot(repoFlag)
	if err != nil {
		root, _ = os.Getwd()
		checks = append(checks, checkResult{"project_root", "warn", fmt.Sprintf("could not resolve project root, using %s", root)})
	} else {
		checks = append(checks, checkResult{"project_root", "pass", root})
	}

	s, err := openStore(ctx)
	if err != nil {
		checks = append(checks, checkResult{"store_open", "fail", err.Error()})
		return finishDoctor(cmd, jsonOutput, checks)
	}
	defer s.Close()
	checks = append(checks, checkResult{"store_open", "pass", "database opened"})

	if err := s.EnsureSynced(ctx); err != nil {
		checks = append(checks, checkResult{"sync", "fail", err.Error()})
		return finishDoctor(cmd, jsonOutput, checks)
	}
	checks = append(checks, checkResult{"sync", "pass", "reconciled with disk"})

	with, total, err := s.EmbeddingCoverage(ctx)
	if err != nil {
		checks = append(checks, checkResult{"embedding_coverage", "fail", err.Error()})
	} else if total == 0 {
		checks = append(checks, checkResult{"embedding_coverage", "warn", "no tickets found"})
	} else if with < total {
		checks = append(checks, checkResult{"embedding_coverage", "warn", fmt.Sprintf("%d/%d tickets embedded", with, total)})
	} else {
		checks = append(checks, checkResult{"embedding_coverage", "pass", fmt.Sprintf("%d/%d tickets embedded", with, total)})
	}

	warnings := s.Warnings()
	if len(warnings) == 0 {
		checks = append(checks, checkResult{"warnings", "pass", "none"})
	} else {
		checks = append(checks, checkResult{"warnings", "warn", fmt.Sprintf("%d accumulated warnings", len(warnings))})
	}

	return finishDoctor(cmd, jsonOutput, checks)
}

func finishDoctor(cmd *cobra.Command, jsonOutput bool, checks []checkResult) error {
	status := "pass"
	for _, c := range checks {
		if c.Status == "fail" {
			status = "fail"
			break
		}
		if c.Status == "warn" && status != "fail" {
			status = "warn"
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorJSON{Status: status, Checks: checks}); err != nil {
			return err
		}
	} else {
		out := output.New(cmd.OutOrStdout())
		for _, c := range checks {
			switch c.Status {
			case "fail":
				out.Errorf("%s: %s", c.Name, c.Message)
			case "warn":
				out.Warningf("%s: %s", c.Name, c.Message)
			default:
				out.Successf("%s: %s", c.Name, c.Message)
			}
		}
	}

	if status == "fail" {
		return fmt.Errorf("doctor: system check failed")
	}
	return nil
}
