package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TrendMode selects the percentile strategy used by Trend metrics.
type TrendMode string

const (
	// TrendHDR stores values in an HDR histogram. Memory is bounded and
	// percentiles carry a relative error of at most 10^-SigFigs.
	TrendHDR TrendMode = "hdr"

	// TrendExact keeps every value and answers percentiles with the
	// nearest-rank method. Memory grows with the number of samples.
	TrendExact TrendMode = "exact"
)

// trendScale converts trend values into histogram units. Values are usually
// milliseconds, so the histogram resolves to microseconds.
const trendScale = 1000.0

// trend is the distribution behind a Trend metric.
//
// Min, max, sum and count are always exact. Only the percentile lookups go
// through the configured strategy, and their result is clamped to the
// observed [min, max] so p(0) and p(100) always match the real extremes.
type trend struct {
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64

	// HDR mode
	hist    *hdrhistogram.Histogram
	histMax int64

	// Exact mode
	values []float64
	sorted bool
}

func newTrend(cfg Config) *trend {
	t := &trend{}
	if cfg.TrendMode == TrendExact {
		t.values = make([]float64, 0, 64)
		t.sorted = true
		return t
	}
	t.histMax = int64(cfg.HistogramMax * trendScale)
	t.hist = hdrhistogram.New(1, t.histMax, cfg.HistogramSigFigs)
	return t
}

func (t *trend) kind() Kind { return KindTrend }

func (t *trend) add(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.count++
	t.sum += v

	if t.hist != nil {
		scaled := int64(math.Round(v * trendScale))
		if scaled < 0 {
			scaled = 0
		}
		if scaled > t.histMax {
			scaled = t.histMax
		}
		// RecordValue only fails for values outside the trackable range,
		// which the clamp above rules out.
		_ = t.hist.RecordValue(scaled)
		return
	}

	t.values = append(t.values, v)
	t.sorted = false
}

// stats fills in the trend fields of s for the given percentiles.
func (t *trend) stats(s *Stats, percentiles []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.Count = t.count
	s.Sum = t.sum
	if t.count == 0 {
		return
	}

	s.Min = t.min
	s.Max = t.max
	s.Avg = t.sum / float64(t.count)
	s.Med = t.percentile(50)

	if len(percentiles) > 0 {
		s.Percentiles = make(map[string]float64, len(percentiles))
		for _, p := range percentiles {
			s.Percentiles[PercentileKey(p)] = t.percentile(p)
		}
	}
}

// percentile must be called with mu held and count > 0.
func (t *trend) percentile(p float64) float64 {
	switch {
	case p <= 0:
		return t.min
	case p >= 100:
		return t.max
	}

	var v float64
	if t.hist != nil {
		v = float64(t.hist.ValueAtQuantile(p)) / trendScale
	} else {
		v = t.nearestRank(p)
	}

	if v < t.min {
		return t.min
	}
	if v > t.max {
		return t.max
	}
	return v
}

// nearestRank returns the value at rank ceil(p/100 * n).
func (t *trend) nearestRank(p float64) float64 {
	if !t.sorted {
		sort.Float64s(t.values)
		t.sorted = true
	}

	n := len(t.values)
	rank := int(math.Ceil(p * float64(n) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return t.values[rank-1]
}
