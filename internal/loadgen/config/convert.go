package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
	"github.com/wesleyorama2/stampede/internal/loadgen/tracing"
)

// ExecutorConfig converts the load shape into an executor configuration.
func (c *TestConfig) ExecutorConfig() executor.Config {
	cfg := executor.Config{
		Name:     c.Name,
		Type:     c.ExecutorType(),
		VUs:      c.VUs,
		Duration: time.Duration(c.Duration),
		StartVUs: c.StartVUs,
	}
	for _, s := range c.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: time.Duration(s.Duration),
			Target:   s.Target,
			Name:     s.Name,
		})
	}
	return cfg
}

// ThresholdSet parses the configured thresholds.
func (c *TestConfig) ThresholdSet() (threshold.Set, error) {
	set := threshold.Set{}
	for metric, list := range c.Thresholds {
		for _, tc := range list {
			t, err := threshold.Parse(metric, tc.Threshold)
			if err != nil {
				return nil, err
			}
			t.AbortOnFail = tc.AbortOnFail
			t.DelayAbortEval = time.Duration(tc.DelayAbortEval)
			set.Add(t)
		}
	}
	return set, nil
}

// HTTPClientConfig merges the HTTP settings over the client defaults.
func (c *TestConfig) HTTPClientConfig() loadgen.HTTPClientConfig {
	h := loadgen.DefaultHTTPClientConfig()
	h.Timeout = c.HTTP.Timeout.GetDuration(h.Timeout)
	if c.HTTP.MaxIdleConns > 0 {
		h.MaxIdleConns = c.HTTP.MaxIdleConns
	}
	if c.HTTP.MaxIdleConnsPerHost > 0 {
		h.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	}
	h.MaxConnsPerHost = c.HTTP.MaxConnsPerHost
	h.DisableKeepAlives = c.HTTP.DisableKeepAlives
	h.InsecureSkipVerify = c.HTTP.InsecureSkipVerify
	h.RPS = c.HTTP.RPS
	return h
}

// ToOptions validates the configuration and resolves it into engine options
// for the given workload.
func (c *TestConfig) ToOptions(w loadgen.Workload, logger zerolog.Logger) (engine.Options, error) {
	if err := c.Validate(); err != nil {
		return engine.Options{}, err
	}

	thresholds, err := c.ThresholdSet()
	if err != nil {
		return engine.Options{}, fmt.Errorf("thresholds: %w", err)
	}

	opts := engine.DefaultOptions()
	opts.Name = c.Name
	opts.Workload = w
	opts.WorkloadName = c.Workload
	opts.Executor = c.ExecutorConfig()
	opts.Seed = c.Seed
	opts.MaxVUs = c.MaxVUs
	opts.GracefulStop = c.GracefulStop.GetDuration(engine.DefaultGracefulStop)
	opts.Thresholds = thresholds
	if c.ZeroSamplePolicy != "" {
		opts.ZeroSamplePolicy = threshold.ZeroSamplePolicy(c.ZeroSamplePolicy)
	}
	opts.AbortOnFatal = c.AbortOnFatal
	if len(c.SummaryTrendStats) > 0 {
		opts.SummaryTrendStats = append([]string(nil), c.SummaryTrendStats...)
	}
	if c.TrendMode != "" {
		opts.Metrics.TrendMode = metrics.TrendMode(c.TrendMode)
	}
	opts.HTTP = c.HTTPClientConfig()
	opts.Tracing = tracing.Config{
		Endpoint:    c.Tracing.Endpoint,
		Protocol:    c.Tracing.Protocol,
		Insecure:    c.Tracing.Insecure,
		SampleRate:  c.Tracing.SampleRate,
		ServiceName: c.Tracing.ServiceName,
		Propagate:   c.Tracing.Propagate,
	}
	opts.BaseURL = c.BaseURL
	opts.Vars = MergeVariables(c.Variables)
	opts.Logger = logger

	if c.Pacing != nil && c.Pacing.Type != "" {
		opts.Pacing = loadgen.Pacing{
			Type:     loadgen.PacingType(c.Pacing.Type),
			Duration: time.Duration(c.Pacing.Duration),
			Min:      time.Duration(c.Pacing.Min),
			Max:      time.Duration(c.Pacing.Max),
		}
	}

	return opts, nil
}
