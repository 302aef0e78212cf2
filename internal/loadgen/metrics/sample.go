package metrics

import (
	"math"
	"sync"
	"sync/atomic"
)

// metric is implemented by every metric kind held in a Registry.
type metric interface {
	kind() Kind
	add(v float64)
	stats(s *Stats, percentiles []float64)
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// counter sums values. Count tracks how many adds happened.
type counter struct {
	count atomic.Int64
	sum   atomicFloat
}

func (c *counter) kind() Kind { return KindCounter }

func (c *counter) add(v float64) {
	c.sum.add(v)
	c.count.Add(1)
}

func (c *counter) stats(s *Stats, _ []float64) {
	s.Count = c.count.Load()
	s.Sum = c.sum.load()
	s.Value = s.Sum
}

// rate counts non-zero observations against the total.
type rate struct {
	passes atomic.Int64
	total  atomic.Int64
}

func (r *rate) kind() Kind { return KindRate }

func (r *rate) add(v float64) {
	if v != 0 {
		r.passes.Add(1)
	}
	r.total.Add(1)
}

func (r *rate) stats(s *Stats, _ []float64) {
	// total is loaded first so passes can never exceed it in a snapshot
	// taken while records are still arriving.
	total := r.total.Load()
	passes := r.passes.Load()
	if passes > total {
		passes = total
	}
	s.Count = total
	s.Passes = passes
	s.Fails = total - passes
	if total > 0 {
		s.Rate = float64(passes) / float64(total)
	}
	s.Value = s.Rate
}

// gauge holds the last value written.
type gauge struct {
	mu    sync.Mutex
	count int64
	value float64
	min   float64
	max   float64
}

func (g *gauge) kind() Kind { return KindGauge }

func (g *gauge) add(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 || v < g.min {
		g.min = v
	}
	if g.count == 0 || v > g.max {
		g.max = v
	}
	g.value = v
	g.count++
}

func (g *gauge) stats(s *Stats, _ []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s.Count = g.count
	if g.count == 0 {
		return
	}
	s.Value = g.value
	s.Min = g.min
	s.Max = g.max
}
