package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorsplit/sensorsplit/internal/app"
	"github.com/sensorsplit/sensorsplit/internal/config"
	"github.com/sensorsplit/sensorsplit/internal/report"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the timed comparison and publish the summary",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}

	flags := cmd.Flags()
	flags.Duration("duration", 0, "how long to keep starting iterations")
	flags.Int("tenants", 0, "number of tenants")
	flags.Int("records", 0, "records generated per tenant per iteration")
	flags.Duration("pace", 0, "delay after each tenant")
	flags.Bool("parallel", false, "process the tenants of an iteration concurrently")
	flags.Uint64("seed", 0, "generator seed (0 seeds from the clock)")
	flags.String("storage", "", "artifact storage (none|local|s3)")
	flags.Bool("no-progress", false, "disable the progress bar")

	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.Run.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("tenants") {
		cfg.Run.Tenants, _ = flags.GetInt("tenants")
	}
	if flags.Changed("records") {
		cfg.Run.RecordsPerIteration, _ = flags.GetInt("records")
	}
	if flags.Changed("pace") {
		cfg.Run.Pace, _ = flags.GetDuration("pace")
	}
	if flags.Changed("parallel") {
		cfg.Run.ParallelTenants, _ = flags.GetBool("parallel")
	}
	if flags.Changed("seed") {
		cfg.Run.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("storage") {
		cfg.Storage.Type, _ = flags.GetString("storage")
	}
	if noProgress, _ := flags.GetBool("no-progress"); noProgress {
		cfg.Run.Progress = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	application, err := app.New(cfg, app.Options{
		Version:  version,
		Progress: os.Stderr,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	rep, runErr := application.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if rep != nil {
		out := cmd.OutOrStdout()
		title := fmt.Sprintf("Run %s", rep.RunID)
		if err := report.Summary(out, title, rep.Summary); err != nil {
			return err
		}
		fmt.Fprintf(out, "iterations: %d  outcomes: %d  failures: %d  uploads: %d  metrics: %s\n",
			rep.Result.Iterations, rep.Result.Outcomes, rep.Result.Failures, rep.Uploads.Uploaded, rep.MetricsPath)
	}
	return runErr
}
