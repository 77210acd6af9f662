package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/daemon"
	"github.com/yairfalse/lassie/internal/retry"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/orchestrator"
)

var (
	runDryRun      bool
	runReport      string
	runParallelism int
	runInterval    time.Duration
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [start-date]",
	Short: "Tag untagged resources with the identity that created them",
	Long: `Reconcile every configured account, region and resource kind.

The start date is the first day of audit logs to read: empty for today,
yyyy-MM-dd for a fixed day, or a number of days back from today.

Exit status is 1 when any account/region/kind failed, 0 otherwise.`,
	Example: `  lassie run                          # Today's logs
  lassie run 7 --dry-run              # Last week, tag nothing
  lassie run 2024-03-01 --report r.json
  lassie run 1 --interval 1h --metrics-addr :9090`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log what would be tagged without tagging")
	runCmd.Flags().StringVarP(&runReport, "report", "o", "", "Write the JSON report to this file")
	runCmd.Flags().IntVarP(&runParallelism, "parallelism", "p", 0, "Account/region pairs reconciled at once (overrides config)")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Repeat the run on this interval until interrupted")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics and health checks on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath, func(c *config.Config) {
		if cmd.Flags().Changed("parallelism") {
			c.Run.Parallelism = runParallelism
		}
		if logFormat != "" {
			c.Log.Format = logFormat
		}
	})
	if err != nil {
		return err
	}

	startArg := ""
	if len(args) == 1 {
		startArg = args[0]
	}
	// Parse once up front so a bad argument fails before any work.
	if _, err := config.StartDate(startArg, time.Now()); err != nil {
		return err
	}

	telemetry.SetupLogging(cfg.Log.Level, cfg.Log.Format, debug)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, runMetricsAddr != "")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	runMetrics, err := daemon.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	d := daemon.New(runInterval, func(ctx context.Context) (int, error) {
		start, err := config.StartDate(startArg, time.Now())
		if err != nil {
			return 1, err
		}
		driver := orchestrator.New(orchestrator.AWS(), options(cfg, start), metrics)
		return reconcileOnce(ctx, driver, cfg.Accounts, out, runReport)
	}, runMetrics)

	log.Info().
		Str("config", configPath).
		Int("accounts", len(cfg.Accounts)).
		Bool("dry_run", runDryRun).
		Dur("interval", runInterval).
		Msg("lassie starting")

	var (
		g    run.Group
		code int
	)
	g.Add(func() error {
		var err error
		code, err = d.Start(ctx)
		return err
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	if runMetricsAddr != "" {
		srv := &http.Server{Addr: runMetricsAddr, Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			log.Info().Str("addr", runMetricsAddr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Run(); err != nil {
		if !errors.Is(err, run.ErrSignal) {
			return err
		}
		log.Info().Err(err).Msg("shutting down")
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

func options(cfg *config.Config, start time.Time) orchestrator.Options {
	return orchestrator.Options{
		Start:       start,
		Parallelism: cfg.Run.Parallelism,
		MaxDays:     cfg.Run.MaxDays,
		ScratchDir:  cfg.Run.ScratchDir,
		Retry: retry.Policy{
			MaxAttempts: cfg.Run.Retry.MaxAttempts,
			BaseDelay:   cfg.Run.Retry.BaseDelay,
			MaxDelay:    cfg.Run.Retry.MaxDelay,
		},
		RateLimit: cfg.Run.RateLimit,
		DryRun:    runDryRun,
	}
}

// reconcileOnce runs the driver, prints the summary and writes the report
// file when one was asked for.
func reconcileOnce(ctx context.Context, driver *orchestrator.Driver, accounts []config.Account, out io.Writer, reportPath string) (int, error) {
	report, err := driver.Run(ctx, accounts)
	if err != nil {
		return 1, err
	}

	if err := report.Summary(out); err != nil {
		log.Warn().Err(err).Msg("failed to print summary")
	}

	code := report.ExitCode()
	if reportPath != "" {
		if err := report.WriteFile(reportPath); err != nil {
			log.Error().Err(err).Str("path", reportPath).Msg("failed to write report")
			code = 1
		}
	}
	return code, nil
}
