// Command order-server is a stand-in for the order service that the
// complex-order workload targets. It is meant for trying runs locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wesleyorama2/stampede/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("order-server", pflag.ContinueOnError)
	addr := flags.String("addr", ":8080", "Listen address")
	cfg := serverConfig{}
	flags.DurationVar(&cfg.VIPLatency, "vip-latency", 20*time.Millisecond, "Mean latency of VIP orders")
	flags.DurationVar(&cfg.NormalLatency, "normal-latency", 80*time.Millisecond, "Mean latency of normal orders")
	flags.Float64Var(&cfg.ErrorRate, "error-rate", 0, "Fraction of orders answered with 503")
	flags.Int64Var(&cfg.Seed, "seed", 1, "Seed for latency jitter and injected errors")
	logLevel := flags.String("log-level", "info", "Log level")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: logging.FormatColourful}, os.Stderr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(cfg, logger),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *addr).Msg("order server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
