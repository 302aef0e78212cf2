package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
	"github.com/wesleyorama2/stampede/internal/loadgen/tracing"
)

// Defaults for Options.
const (
	DefaultGracefulStop      = 30 * time.Second
	DefaultForceStopTimeout  = 5 * time.Second
	DefaultThresholdInterval = 2 * time.Second
)

// DefaultSummaryTrendStats are the trend statistics shown in summaries.
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// Options is the complete, resolved description of a run. The engine keeps
// its own copy, so changing an Options value after New has no effect.
type Options struct {
	// Name of the run, shown in reports.
	Name string

	// Workload runs once per iteration. WorkloadName is informational.
	Workload     loadgen.Workload
	WorkloadName string

	// Executor drives the VU count over time.
	Executor executor.Config

	// Seed for the per-VU samplers.
	Seed int64

	// MaxVUs caps the live VU count. Zero means no cap.
	MaxVUs int

	// Pacing between iterations. When unset, a workload implementing
	// loadgen.Pacer supplies it.
	Pacing loadgen.Pacing

	// GracefulStop is how long VUs get to finish their iteration once the
	// run ends, before in-flight iterations are cancelled.
	GracefulStop time.Duration

	// ForceStopTimeout is how long to wait for VUs after cancelling them.
	ForceStopTimeout time.Duration

	// ThresholdInterval is how often abort-on-fail thresholds are checked.
	ThresholdInterval time.Duration

	Thresholds       threshold.Set
	ZeroSamplePolicy threshold.ZeroSamplePolicy

	// AbortOnFatal aborts the whole run on the first fatal iteration.
	AbortOnFatal bool

	// SummaryTrendStats lists trend statistics for the summary, e.g. "p(99)".
	SummaryTrendStats []string

	Metrics metrics.Config
	HTTP    loadgen.HTTPClientConfig
	Tracing tracing.Config

	// BaseURL and Vars are handed to every iteration.
	BaseURL string
	Vars    map[string]string

	Logger zerolog.Logger
}

// DefaultOptions returns Options with every default filled in. Workload and
// Executor still have to be set.
func DefaultOptions() Options {
	return Options{
		GracefulStop:      DefaultGracefulStop,
		ForceStopTimeout:  DefaultForceStopTimeout,
		ThresholdInterval: DefaultThresholdInterval,
		Thresholds:        threshold.Set{},
		ZeroSamplePolicy:  threshold.ZeroSampleFail,
		SummaryTrendStats: append([]string(nil), DefaultSummaryTrendStats...),
		Metrics:           metrics.DefaultConfig(),
		HTTP:              loadgen.DefaultHTTPClientConfig(),
		Vars:              map[string]string{},
		Logger:            zerolog.Nop(),
	}
}

// withDefaults returns a copy of o with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.GracefulStop <= 0 {
		o.GracefulStop = DefaultGracefulStop
	}
	if o.ForceStopTimeout <= 0 {
		o.ForceStopTimeout = DefaultForceStopTimeout
	}
	if o.ThresholdInterval <= 0 {
		o.ThresholdInterval = DefaultThresholdInterval
	}
	if o.ZeroSamplePolicy == "" {
		o.ZeroSamplePolicy = threshold.ZeroSampleFail
	}
	if len(o.SummaryTrendStats) == 0 {
		o.SummaryTrendStats = DefaultSummaryTrendStats
	}
	o.Metrics = metricsWithDefaults(o.Metrics)
	o.HTTP = httpWithDefaults(o.HTTP)

	o.SummaryTrendStats = append([]string(nil), o.SummaryTrendStats...)
	o.Executor.Stages = append([]executor.Stage(nil), o.Executor.Stages...)

	thresholds := make(threshold.Set, len(o.Thresholds))
	for metric, ts := range o.Thresholds {
		thresholds[metric] = append([]threshold.Threshold(nil), ts...)
	}
	o.Thresholds = thresholds

	vars := make(map[string]string, len(o.Vars))
	for k, v := range o.Vars {
		vars[k] = v
	}
	o.Vars = vars
	return o
}

// metricsWithDefaults fills each unset field of cfg on its own, so a
// partially set config keeps the fields it has.
func metricsWithDefaults(cfg metrics.Config) metrics.Config {
	defaults := metrics.DefaultConfig()
	if cfg.TrendMode == "" {
		cfg.TrendMode = defaults.TrendMode
	}
	if cfg.HistogramMax <= 0 {
		cfg.HistogramMax = defaults.HistogramMax
	}
	if cfg.HistogramSigFigs <= 0 {
		cfg.HistogramSigFigs = defaults.HistogramSigFigs
	}
	return cfg
}

func httpWithDefaults(cfg loadgen.HTTPClientConfig) loadgen.HTTPClientConfig {
	defaults := loadgen.DefaultHTTPClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = defaults.IdleConnTimeout
	}
	return cfg
}

func (o Options) validate() error {
	if o.Workload == nil {
		return fmt.Errorf("no workload")
	}
	if o.MaxVUs < 0 {
		return fmt.Errorf("maxVUs must be >= 0")
	}
	switch o.ZeroSamplePolicy {
	case threshold.ZeroSampleFail, threshold.ZeroSampleSkip:
	default:
		return fmt.Errorf("unknown zero-sample policy %q", o.ZeroSamplePolicy)
	}
	if _, err := SummaryPercentiles(o.SummaryTrendStats); err != nil {
		return err
	}
	return o.Executor.Validate()
}

// SummaryPercentiles extracts the percentiles named in summary trend stats,
// e.g. "p(95)" and "p(99.9)". Other names must be avg, min, med, max or
// count.
func SummaryPercentiles(stats []string) ([]float64, error) {
	var ps []float64
	for _, s := range stats {
		s = strings.TrimSpace(s)
		switch s {
		case "avg", "min", "med", "max", "count":
			continue
		}
		if !strings.HasPrefix(s, "p(") || !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("unknown summary trend stat %q", s)
		}
		p, err := strconv.ParseFloat(s[2:len(s)-1], 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("invalid percentile in summary trend stat %q", s)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// unionPercentiles merges percentile lists, sorted and without duplicates.
func unionPercentiles(lists ...[]float64) []float64 {
	seen := map[float64]bool{}
	var out []float64
	for _, list := range lists {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Float64s(out)
	return out
}
