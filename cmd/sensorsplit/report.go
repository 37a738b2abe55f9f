package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensorsplit/sensorsplit/internal/ledger"
	"github.com/sensorsplit/sensorsplit/internal/report"
	"github.com/sensorsplit/sensorsplit/internal/sink"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [metrics.json]",
		Short: "Render a run summary from metrics.json or the run ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReport,
	}

	flags := cmd.Flags()
	flags.Bool("ledger", false, "read from the run ledger instead of metrics.json")
	flags.String("run", "", "run ID to render (ledger only; default latest)")
	flags.Int("runs", 0, "list the most recent runs instead of a summary (ledger only)")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Resolve()

	out := cmd.OutOrStdout()
	flags := cmd.Flags()
	useLedger, _ := flags.GetBool("ledger")
	runID, _ := flags.GetString("run")
	listRuns, _ := flags.GetInt("runs")

	if !useLedger {
		path := cfg.MetricsPath()
		if len(args) == 1 {
			path = args[0]
		}
		summary, err := sink.ReadFile(path)
		if err != nil {
			return err
		}
		return report.Summary(out, path, summary)
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	if listRuns > 0 {
		runs, err := l.ListRuns(ctx, listRuns)
		if err != nil {
			return err
		}
		return report.Runs(out, runs)
	}

	var summary types.RunSummary
	if runID == "" {
		runID, summary, err = l.LatestSummary(ctx)
	} else {
		summary, err = l.Summary(ctx, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to read summary: %w", err)
	}
	return report.Summary(out, fmt.Sprintf("Run %s", runID), summary)
}
