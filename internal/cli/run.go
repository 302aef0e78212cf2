package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/loadgen/config"
	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/output"
	"github.com/wesleyorama2/stampede/internal/workload"
)

func newRunCmd(workloads *workload.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a load test",
		Long: `Run a load test from a YAML or JSON configuration file. Flags and environment
variables override the file:

  stampede run run.yaml --stages "30s:10,1m:10,10s:0"
  API_BASE_URL=http://orders:8080 stampede run run.yaml
  stampede run --workload complex-order --vus 5 --duration 1m

Exit codes: 0 passed, 99 thresholds failed, 103 aborted, 104 invalid
configuration, 105 interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, args, workloads)
		},
	}

	flags := cmd.Flags()
	config.RegisterOverrideFlags(flags)
	flags.String("summary-export", "", "Write the run report as JSON to this file")
	flags.String("html-report", "", "Write the run report as an HTML page to this file")
	flags.String("metrics-addr", "", "Serve live Prometheus metrics on this address, e.g. :9090")
	flags.Duration("progress-interval", time.Second, "How often live progress is printed")
	flags.BoolP("quiet", "q", false, "Only print the final status")
	flags.Bool("no-color", false, "Disable colored output")
	return cmd
}

func runLoadTest(cmd *cobra.Command, args []string, workloads *workload.Registry) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return exitErrorf(ExitFailure, "%v", err)
	}

	cfg, err := loadRunConfig(cmd, args)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	w, err := workloads.Build(cfg.Workload, cfg)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	opts, err := cfg.ToOptions(w, logger)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	eng, err := engine.New(opts)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidOptions) {
			return &ExitError{Code: ExitInvalidConfig, Err: err}
		}
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		shutdown, err := serveMetrics(metricsAddr, eng.Registry(), logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	interval, _ := cmd.Flags().GetDuration("progress-interval")

	console := output.NewConsole(output.ConsoleConfig{
		Name:         runName(cfg),
		ExecutorType: string(cfg.ExecutorType()),
		Writer:       cmd.OutOrStdout(),
		Quiet:        quiet,
		NoColor:      noColor,
	})
	console.PrintHeader(fmt.Sprintf("workload %s, %s", cfg.Workload, opts.Executor.TotalDuration()))

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, interval, eng.LiveStats)
	}()

	report, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()
	if runErr != nil {
		return runErr
	}

	console.PrintSummary(report)

	if path, _ := cmd.Flags().GetString("summary-export"); path != "" {
		if err := output.WriteJSONFile(path, report); err != nil {
			return err
		}
		logger.Info().Str("path", path).Msg("summary exported")
	}
	if path, _ := cmd.Flags().GetString("html-report"); path != "" {
		if err := output.WriteHTMLFile(path, report); err != nil {
			return err
		}
		logger.Info().Str("path", path).Msg("HTML report written")
	}

	if code := ExitCode(report); code != ExitOK {
		return &ExitError{Code: code, Err: fmt.Errorf("run %s: %s", report.RunID, describeFailure(report))}
	}
	return nil
}

// loadRunConfig reads the optional config file and applies flag and
// environment overrides.
func loadRunConfig(cmd *cobra.Command, args []string) (*config.TestConfig, error) {
	cfg := &config.TestConfig{}
	if len(args) == 1 {
		loaded, err := config.LoadConfig(args[0])
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides, err := config.NewOverrides(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := config.ApplyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runName(cfg *config.TestConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Workload
}

func describeFailure(report *engine.RunReport) string {
	if report.Status == engine.StatusThresholdsFailed {
		return fmt.Sprintf("%d threshold(s) failed", len(report.Failed()))
	}
	if report.AbortReason != "" {
		return fmt.Sprintf("aborted (%s): %s", report.AbortCause, report.AbortReason)
	}
	return fmt.Sprintf("aborted (%s)", report.AbortCause)
}

// metricsHandler exposes the run's metrics in the Prometheus text format.
func metricsHandler(registry *metrics.Registry) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewPrometheusCollector(registry))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func serveMetrics(addr string, registry *metrics.Registry, logger zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler(registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
