package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/bootstrap"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/config"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type sweepFlags struct {
	concurrency int
	batchSize   int
	failOnError bool
}

func newRootCommand() *cobra.Command {
	flags := &sweepFlags{}
	root := &cobra.Command{
		Use:           "sweep",
		Short:         "Renewal sweep for the subscription service",
		Long:          "Charges due trials, renewals and dunning retries, and expires stale incomplete subscriptions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&flags.concurrency, "concurrency", 0, "parallel charges (default RENEWAL_CONCURRENCY)")
	root.PersistentFlags().IntVar(&flags.batchSize, "batch-size", 0, "subscriptions per page (default RENEWAL_BATCH_SIZE)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one sweep and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *bootstrap.App, log *zap.Logger) error {
				report, err := app.Sweeper.Run(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if flags.failOnError && report.Errored > 0 {
					return fmt.Errorf("%d subscriptions errored", report.Errored)
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&flags.failOnError, "fail-on-error", false, "exit non-zero when any subscription errored")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Sweep every RENEWAL_SWEEP_INTERVAL until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *bootstrap.App, log *zap.Logger) error {
				app.Sweeper.Start(ctx)
				log.Info("sweep loop stopped")
				return nil
			})
		},
	}

	root.AddCommand(run, serve)
	return root
}

// withApp loads config, builds the App and runs fn until SIGINT or SIGTERM.
func withApp(parent context.Context, flags *sweepFlags, fn func(context.Context, *bootstrap.App, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if flags.concurrency > 0 {
		cfg.Sweep.Concurrency = flags.concurrency
	}
	if flags.batchSize > 0 {
		cfg.Sweep.BatchSize = flags.batchSize
	}

	zapLogger, err := logger.NewNamed(cfg.AppEnv, "subscription-sweep")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer zapLogger.Sync()

	app, err := bootstrap.Build(cfg, prometheus.NewRegistry(), zapLogger)
	if err != nil {
		return err
	}
	defer app.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, app, zapLogger)
}
