package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// This executor smoothly interpolates VU counts between stages,
// avoiding step-wise VU changes that cause jarring throughput variations.
//
// Use cases:
//   - Realistic traffic simulation (morning ramp-up, evening ramp-down)
//   - Finding the breaking point of a system
//   - Stress testing with gradual load increase
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config *Config
	plan   *Plan

	// State
	startTime    time.Time
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool

	// Closed once by Stop, which may run before Run.
	stopCh   chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	return e.init(config)
}

func (e *RampingVUs) init(config *Config) error {
	plan, err := config.Plan()
	if err != nil {
		return err
	}

	e.config = config
	e.plan = plan
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadgen.VUScheduler, registry *metrics.Registry) error {
	if e.plan == nil {
		return fmt.Errorf("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor already running")
	}
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	stopped := e.stopped()
	select {
	case <-stopped:
		return nil
	default:
	}

	start := time.Now()
	controlCtx, cancel := context.WithDeadline(ctx, start.Add(e.plan.TotalDuration()))
	defer cancel()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()

	// Adjust VUs right away, then on every tick.
	if err := e.adjustVUs(ctx, scheduler, registry, 0); err != nil {
		return err
	}

	ticker := time.NewTicker(e.config.controlInterval())
	defer ticker.Stop()

	for {
		select {
		case <-controlCtx.Done():
			return nil
		case <-stopped:
			return nil
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= e.plan.TotalDuration() {
				return nil
			}
			if err := e.adjustVUs(ctx, scheduler, registry, elapsed); err != nil {
				return err
			}
		}
	}
}

// adjustVUs reconciles the live VU count with the target at elapsed.
// VUs are spawned with ctx, which outlives the control loop.
func (e *RampingVUs) adjustVUs(ctx context.Context, scheduler *loadgen.VUScheduler, registry *metrics.Registry, elapsed time.Duration) error {
	target := e.plan.TargetAt(elapsed)
	e.targetVUs.Store(int32(target))
	if idx, ok := e.plan.StageAt(elapsed); ok {
		e.currentStage.Store(int32(idx))
	}

	_, _, scaleErr := scheduler.Scale(ctx, target)

	live := scheduler.LiveCount()
	e.activeVUs.Store(int32(live))
	if err := registry.SetGauge(metrics.VUs, float64(live)); err != nil {
		return &loadgen.InfraError{Op: "record vus", Err: err}
	}
	return scaleErr
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}

	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if start.IsZero() || e.plan == nil {
		return 0.0
	}

	totalDuration := e.plan.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current live VU count as of the last control tick.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	now := time.Now()
	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = now.Sub(start)
	}

	stats := &Stats{
		StartTime:    start,
		CurrentTime:  now,
		Elapsed:      elapsed,
		ActiveVUs:    int(e.activeVUs.Load()),
		TargetVUs:    int(e.targetVUs.Load()),
		CurrentStage: int(e.currentStage.Load()),
		Phase:        PhaseDone,
	}
	if e.plan == nil {
		return stats
	}

	stages := e.plan.Stages()
	stats.TotalDuration = e.plan.TotalDuration()
	stats.TotalStages = len(stages)
	if stats.CurrentStage < len(stages) {
		stats.CurrentStageName = stages[stats.CurrentStage].Name
	}
	if !start.IsZero() && !e.finished.Load() {
		stats.Phase = e.plan.Phase(elapsed)
	}
	return stats
}

// Stop ends the control loop. VUs keep running until the caller drains them.
// A Stop that arrives before Run makes Run return without spawning any VUs.
func (e *RampingVUs) Stop(ctx context.Context) error {
	stopped := e.stopped()
	e.stopOnce.Do(func() { close(stopped) })
	return nil
}

func (e *RampingVUs) stopped() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh == nil {
		e.stopCh = make(chan struct{})
	}
	return e.stopCh
}

// Plan returns the compiled plan, or nil before Init.
func (e *RampingVUs) Plan() *Plan {
	return e.plan
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
