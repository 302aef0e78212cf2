package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen/sampler"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateStarting indicates the VU was spawned but has not begun iterating.
	VUStateStarting VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU was asked to stop and is finishing
	// its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateStarting:
		return "starting"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing controls the sleep between two iterations of a VU.
type Pacing struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Next returns the next sleep, drawing random pacing from s.
func (p Pacing) Next(s *sampler.Sampler) time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		return s.Duration(p.Min, p.Max)
	default:
		return 0
	}
}

// VirtualUser is a single simulated user running workload iterations in a
// loop.
//
// Each VU has its own:
//   - Seeded sampler (reproducible payloads per run seed)
//   - Variable scope (values carried across iterations)
//   - Iteration counter
//   - Lifecycle state
//
// Stopping is cooperative. RequestStop only takes effect between iterations,
// so an iteration is never torn in half by a stop request. Only cancelling
// the context given to Run interrupts an iteration in flight.
type VirtualUser struct {
	// Unique identifier for this VU, starting at 1
	ID int

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	iteration atomic.Int64
	fatal     atomic.Int64

	rand *sampler.Sampler

	// Per-VU variable scope
	data   map[string]interface{}
	dataMu sync.RWMutex
}

// NewVirtualUser creates a VU whose sampler is derived from the run seed.
func NewVirtualUser(id int, seed int64) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		rand:   sampler.ForVU(seed, id),
		data:   make(map[string]interface{}),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of iterations started so far.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// FatalIterations returns the number of iterations that ended in a fatal
// failure.
func (vu *VirtualUser) FatalIterations() int64 {
	return vu.fatal.Load()
}

// Rand returns the VU's sampler.
func (vu *VirtualUser) Rand() *sampler.Sampler {
	return vu.rand
}

// Run loops over iterations until a stop is requested or ctx is cancelled.
// onResult, when set, is called after every iteration from the VU's
// goroutine.
//
// The VU also stops on its own after an interrupted iteration or an
// infrastructure failure.
func (vu *VirtualUser) Run(ctx context.Context, inv *Invoker, pacing Pacing, onResult func(Result)) {
	defer vu.markStopped()

	if !vu.state.CompareAndSwap(int32(VUStateStarting), int32(VUStateRunning)) {
		// Stopped before it ever started.
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		res := inv.Invoke(ctx, vu, vu.iteration.Add(1))
		if res.Outcome == OutcomeFatal {
			vu.fatal.Add(1)
		}
		if onResult != nil {
			onResult(res)
		}
		if res.Outcome == OutcomeInterrupted || res.Outcome == OutcomeInfra {
			return
		}

		if !vu.pace(ctx, pacing) {
			return
		}
	}
}

// pace sleeps between iterations. It returns false when the VU should stop
// instead of starting another iteration.
func (vu *VirtualUser) pace(ctx context.Context, pacing Pacing) bool {
	wait := pacing.Next(vu.rand)
	if wait <= 0 {
		return true
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
// It returns true if this call moved the VU into the stopping state.
func (vu *VirtualUser) RequestStop() bool {
	for {
		current := VUState(vu.state.Load())
		if current == VUStateStopping || current == VUStateStopped {
			return false
		}
		if vu.state.CompareAndSwap(int32(current), int32(VUStateStopping)) {
			vu.stopOnce.Do(func() { close(vu.stopCh) })
			return true
		}
	}
}

// Done is closed once the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-t.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key string, value interface{}) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (interface{}, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}
