package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config contains configuration for a Registry.
type Config struct {
	// TrendMode selects the percentile strategy for Trend metrics (default: hdr)
	TrendMode TrendMode

	// HistogramMax is the largest value an HDR trend resolves, in trend
	// units. Larger values are clamped in the histogram but min/max stay exact.
	// Default: 3600000 (one hour in milliseconds).
	HistogramMax float64

	// HistogramSigFigs is the number of significant figures kept by HDR
	// trends (default: 3, i.e. 0.1% relative error).
	HistogramSigFigs int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		TrendMode:        TrendHDR,
		HistogramMax:     3600000,
		HistogramSigFigs: 3,
	}
}

// Registry is the metric sink of a run.
//
// # Thread Safety
//
// Registry is safe for concurrent use. The metric map is guarded by a
// read-write lock that is only taken for writing the first time a name is
// seen. Counters and rates update atomically, trends and gauges hold a lock
// of their own, so there is no lock shared by all metrics.
//
// Once Seal is called, further observations are dropped and counted.
type Registry struct {
	config Config

	metrics   map[string]metric
	metricsMu sync.RWMutex

	start    time.Time
	sealedAt atomic.Int64
	dropped  atomic.Int64
}

// NewRegistry creates a registry with the default configuration.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates a registry with a custom configuration.
// Zero fields fall back to their defaults.
func NewRegistryWithConfig(config Config) *Registry {
	defaults := DefaultConfig()
	if config.TrendMode == "" {
		config.TrendMode = defaults.TrendMode
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 || config.HistogramSigFigs > 5 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	return &Registry{
		config:  config,
		metrics: make(map[string]metric),
		start:   time.Now(),
	}
}

// Declare creates a metric without recording into it. Declaring an existing
// metric with the same kind is a no-op.
func (r *Registry) Declare(name string, kind Kind) error {
	_, err := r.get(name, kind)
	return err
}

// Record adds a value to the named metric, creating it on first use.
//
// A *KindMismatchError is returned when the metric already exists with a
// different kind. Unknown kinds and NaN or infinite values are rejected
// without touching the registry. After Seal the value is dropped and
// counted instead.
func (r *Registry) Record(name string, kind Kind, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric %q: %w: %v", name, ErrNonFinite, value)
	}
	if r.Sealed() {
		r.dropped.Add(1)
		return nil
	}

	m, err := r.get(name, kind)
	if err != nil {
		return err
	}
	m.add(value)
	return nil
}

// Add records into a Counter.
func (r *Registry) Add(name string, value float64) error {
	return r.Record(name, KindCounter, value)
}

// AddRate records a boolean sample into a Rate.
func (r *Registry) AddRate(name string, ok bool) error {
	v := 0.0
	if ok {
		v = 1
	}
	return r.Record(name, KindRate, v)
}

// AddTrend records into a Trend.
func (r *Registry) AddTrend(name string, value float64) error {
	return r.Record(name, KindTrend, value)
}

// AddDuration records a duration into a Trend in milliseconds.
func (r *Registry) AddDuration(name string, d time.Duration) error {
	return r.Record(name, KindTrend, float64(d)/float64(time.Millisecond))
}

// SetGauge records into a Gauge.
func (r *Registry) SetGauge(name string, value float64) error {
	return r.Record(name, KindGauge, value)
}

func (r *Registry) get(name string, kind Kind) (metric, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("metric %q: %w %d", name, ErrUnknownKind, int(kind))
	}

	r.metricsMu.RLock()
	m, ok := r.metrics[name]
	r.metricsMu.RUnlock()

	if !ok {
		r.metricsMu.Lock()
		m, ok = r.metrics[name]
		if !ok {
			m = r.newMetric(kind)
			r.metrics[name] = m
		}
		r.metricsMu.Unlock()
	}

	if m.kind() != kind {
		return nil, &KindMismatchError{Name: name, Existing: m.kind(), Got: kind}
	}
	return m, nil
}

func (r *Registry) newMetric(kind Kind) metric {
	switch kind {
	case KindCounter:
		return &counter{}
	case KindRate:
		return &rate{}
	case KindGauge:
		return &gauge{}
	default:
		return newTrend(r.config)
	}
}

// Seal stops the registry from accepting observations. It is safe to call
// more than once; only the first call fixes the seal time.
func (r *Registry) Seal() {
	r.sealedAt.CompareAndSwap(0, time.Now().UnixNano())
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealedAt.Load() != 0
}

// Dropped returns the number of observations dropped after Seal.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// Elapsed returns the time since the registry was created, frozen at the
// seal time once sealed.
func (r *Registry) Elapsed() time.Duration {
	if at := r.sealedAt.Load(); at != 0 {
		return time.Unix(0, at).Sub(r.start)
	}
	return time.Since(r.start)
}

// Names returns the sorted names of all known metrics.
func (r *Registry) Names() []string {
	r.metricsMu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.metricsMu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns an immutable view of every metric. Trends include the
// requested percentiles in addition to min, max, avg and med.
//
// Two snapshots taken without records in between hold identical statistics.
func (r *Registry) Snapshot(percentiles ...float64) *Snapshot {
	r.metricsMu.RLock()
	held := make(map[string]metric, len(r.metrics))
	for name, m := range r.metrics {
		held[name] = m
	}
	r.metricsMu.RUnlock()

	snap := &Snapshot{
		Time:    time.Now(),
		Elapsed: r.Elapsed(),
		Metrics: make(map[string]Stats, len(held)),
	}
	for name, m := range held {
		s := Stats{Name: name, Kind: m.kind()}
		m.stats(&s, percentiles)
		snap.Metrics[name] = s
	}
	return snap
}

// Stats contains the aggregated statistics of one metric.
//
// Only the fields meaningful for the metric's kind are set: Sum and Value
// for counters, Rate/Passes/Fails for rates, Min/Max/Avg/Med/Percentiles
// for trends, and Value/Min/Max for gauges.
type Stats struct {
	Name        string             `json:"name"`
	Kind        Kind               `json:"kind"`
	Count       int64              `json:"count"`
	Sum         float64            `json:"sum,omitempty"`
	Min         float64            `json:"min,omitempty"`
	Max         float64            `json:"max,omitempty"`
	Avg         float64            `json:"avg,omitempty"`
	Med         float64            `json:"med,omitempty"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
	Rate        float64            `json:"rate,omitempty"`
	Passes      int64              `json:"passes,omitempty"`
	Fails       int64              `json:"fails,omitempty"`
	Value       float64            `json:"value,omitempty"`
}

// Percentile returns a percentile that was requested when the snapshot was
// taken. p(0) and p(100) are always available for a non-empty trend.
func (s Stats) Percentile(p float64) (float64, bool) {
	if s.Kind != KindTrend || s.Count == 0 {
		return 0, false
	}
	switch {
	case p <= 0:
		return s.Min, true
	case p >= 100:
		return s.Max, true
	case p == 50:
		return s.Med, true
	}
	v, ok := s.Percentiles[PercentileKey(p)]
	return v, ok
}

// PerSecond divides the metric's value by the given duration.
func (s Stats) PerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	switch s.Kind {
	case KindCounter:
		return s.Sum / elapsed.Seconds()
	default:
		return float64(s.Count) / elapsed.Seconds()
	}
}

// Snapshot is a point-in-time view of a Registry.
type Snapshot struct {
	Time    time.Time        `json:"time"`
	Elapsed time.Duration    `json:"elapsed"`
	Metrics map[string]Stats `json:"metrics"`
}

// Get returns the statistics of one metric.
func (s *Snapshot) Get(name string) (Stats, bool) {
	st, ok := s.Metrics[name]
	return st, ok
}

// Names returns the sorted metric names in the snapshot.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PercentileKey formats a percentile the way thresholds and summaries name
// it, e.g. "p(95)" or "p(99.9)".
func PercentileKey(p float64) string {
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}
