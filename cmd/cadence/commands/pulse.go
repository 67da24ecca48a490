package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/async"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/version"
)

// PulseCmd represents the pulse command - the scheduler
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: logger.SymbolPulse + " Run the scheduler",
	Long: logger.SymbolPulse + ` Pulse - claims due jobs and runs them through the registered handlers.

Each pass recovers stale claims (when pulse.lease_timeout_seconds > 0),
claims up to pulse.batch_size due jobs in priority order and executes them
on pulse.workers concurrent workers. Failed jobs are retried with
exponential backoff until max_retries is reached.

Examples:
  cadence pulse run-once      # One pass, JSON summary on stdout
  cadence pulse start         # Ticker and/or cron daemon
  cadence pulse runs          # Recent scheduler runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run one scheduler pass and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		a, err := newApp(cfg, database, nil, logger.Logger)
		if err != nil {
			return err
		}

		summary, runErr := a.loop.RunOnce(cmd.Context(), time.Now())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return runErr
	},
}

var pulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	Long: `Start the scheduler in the foreground.

Passes are triggered by the ticker (pulse.ticker_interval_seconds), by a
cron expression (pulse.cron), or both. Changes to pulse.workers and
pulse.batch_size in am.toml apply without a restart. Ctrl+C lets the pass
in progress finish before exiting.`,
	RunE: runPulseStart,
}

var pulseRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent scheduler runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		runs, err := schedule.NewRunStore(database).ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			pterm.Info.Println("No scheduler runs yet")
			return nil
		}

		data := pterm.TableData{{"Started", "Trigger", "Jobs", "OK", "Retry", "Failed", "Duration", "Error"}}
		for _, r := range runs {
			duration := "running"
			if r.DurationMs != nil {
				duration = (time.Duration(*r.DurationMs) * time.Millisecond).String()
			}
			data = append(data, []string{
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				string(r.Trigger),
				strconv.Itoa(r.ProcessedJobs),
				strconv.Itoa(r.Succeeded),
				strconv.Itoa(r.Retried),
				strconv.Itoa(r.Failed),
				duration,
				r.ErrorMessage,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	pulseStartCmd.Flags().Int("workers", 0, "Override pulse.workers")
	pulseRunsCmd.Flags().Int("limit", 20, "Number of runs to show")

	PulseCmd.AddCommand(pulseRunOnceCmd)
	PulseCmd.AddCommand(pulseStartCmd)
	PulseCmd.AddCommand(pulseRunsCmd)
}

// checkStartConfig rejects configurations pulse start cannot run with
func checkStartConfig(cfg *am.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if cfg.Pulse.TickerInterval() <= 0 && cfg.Pulse.Cron == "" {
		return errors.New("nothing to trigger passes: set pulse.ticker_interval_seconds or pulse.cron")
	}
	return nil
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Pulse.Workers = workers
	}
	if err := checkStartConfig(cfg); err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.Logger
	a, err := newApp(cfg, database, prometheus.DefaultRegisterer, log)
	if err != nil {
		return err
	}

	if warning := async.MemoryPressureWarning(cfg.Pulse.Workers, 0.5); warning != "" {
		pterm.Warning.Println(warning)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.Pulse.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Pulse.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server failed", logger.FieldError, err)
			}
		}()
	}

	logger.AddPulseOpenSymbol(log).Infow("Scheduler starting",
		"workers", cfg.Pulse.Workers,
		"batch_size", cfg.Pulse.BatchSize,
		"cron", cfg.Pulse.Cron,
	)
	if cfg.Pulse.TickerInterval() > 0 {
		a.loop.Start(ctx)
	}
	var cronTrigger *schedule.CronTrigger
	if cfg.Pulse.Cron != "" {
		cronTrigger, err = schedule.NewCronTrigger(a.loop, cfg.Pulse.Cron, log)
		if err != nil {
			a.loop.Stop()
			return err
		}
		cronTrigger.Start()
	}

	var watcher *am.ConfigWatcher
	if path := am.ProjectConfigPath(); path != "" {
		watcher, err = am.NewConfigWatcher(path, log)
		if err != nil {
			log.Warnw("Config hot-reload disabled", logger.FieldError, err)
		} else {
			watcher.OnReload(a.applyReload)
			watcher.Start()
		}
	}

	pterm.Success.Printfln("%s Pulse started (%s)", logger.SymbolPulse, version.Get().String())
	pterm.Printfln("  Workers:    %d", cfg.Pulse.Workers)
	pterm.Printfln("  Batch size: %d", cfg.Pulse.BatchSize)
	verbosity, _ := cmd.Flags().GetCount("verbose")
	pterm.Printfln("  Verbosity:  %s", logger.LevelName(verbosity))
	if cfg.Pulse.TickerInterval() > 0 {
		pterm.Printfln("  Ticker:     every %s", cfg.Pulse.TickerInterval())
	}
	if cronTrigger != nil {
		pterm.Printfln("  Cron:       %s (next %s)", cfg.Pulse.Cron, cronTrigger.Next(time.Now()).Local().Format(time.RFC3339))
	}
	if metricsSrv != nil {
		pterm.Printfln("  Metrics:    http://%s/metrics", cfg.Pulse.MetricsAddr)
	}
	pterm.Println()
	pterm.Info.Printfln("%s Press Ctrl+C for graceful shutdown", logger.SymbolPulse)

	<-ctx.Done()
	pterm.Info.Printfln("%s Shutting down, waiting for the pass in progress...", logger.SymbolPulseClose)

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}
	if cronTrigger != nil {
		cronTrigger.Stop()
	}
	a.loop.Stop()
	logger.AddPulseCloseSymbol(log).Infow("Scheduler stopped", "loop", a.loop.Stats())

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	pterm.Success.Printfln("%s Pulse stopped", logger.SymbolPulseClose)
	return nil
}
