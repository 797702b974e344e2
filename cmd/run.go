package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"passlog/ingest"
	"passlog/report"
	"passlog/store"
)

var runCmd = &cobra.Command{
	Use:   "run <report.yml>",
	Short: "Replay a recorded suite report into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rep, err := report.Load(args[0])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.Storage.Path, store.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	result, err := report.Replay(ctx, ingest.NewService(st, ingest.Options{}), rep, report.Options{Out: out})
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	summary, err := st.GetSuiteSummary(ctx, result.SuiteID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n📊 Suite ID: %s | Status: %s | Result: %s | Duration: %s\n",
		result.SuiteID, result.Status, result.Result, result.Duration)
	fmt.Fprintf(out, "   Cases: %d | Log lines: %d\n", summary.Cases, summary.LogLines)
	return nil
}
