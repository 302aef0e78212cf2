package loadgen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerConfig contains configuration for a VUScheduler.
type SchedulerConfig struct {
	// Seed for the per-VU samplers
	Seed int64

	// MaxVUs caps the number of live VUs. Zero means no cap.
	MaxVUs int

	// Pacing between iterations
	Pacing Pacing
}

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
//   - VU pool management (spawning and retiring VUs)
//   - Live VU accounting for the run controller
//   - Graceful and forced shutdown coordination
//
// A VU is live from spawn until it reports Stopped, including while it is
// finishing its last iteration. Scale never lets the live count exceed the
// requested target.
type VUScheduler struct {
	invoker  *Invoker
	config   SchedulerConfig
	onResult func(Result)

	// Live VUs in spawn order
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextVUID atomic.Int32
	spawned  atomic.Int64
	wg       sync.WaitGroup
}

// NewVUScheduler creates a new VU scheduler. onResult is called from VU
// goroutines after every iteration and may be nil.
func NewVUScheduler(invoker *Invoker, config SchedulerConfig, onResult func(Result)) *VUScheduler {
	return &VUScheduler{
		invoker:  invoker,
		config:   config,
		onResult: onResult,
	}
}

// Spawn creates a VU and starts its loop in a new goroutine. The VU's
// iterations run with ctx, so cancelling ctx interrupts them.
func (s *VUScheduler) Spawn(ctx context.Context) (*VirtualUser, error) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	s.pruneLocked()
	if s.config.MaxVUs > 0 && len(s.vus) >= s.config.MaxVUs {
		return nil, &InfraError{
			Op:  "spawn VU",
			Err: fmt.Errorf("%w: %d", ErrVULimit, s.config.MaxVUs),
		}
	}

	vu := NewVirtualUser(int(s.nextVUID.Add(1)), s.config.Seed)
	s.vus = append(s.vus, vu)
	s.spawned.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		vu.Run(ctx, s.invoker, s.config.Pacing, s.onResult)
	}()

	return vu, nil
}

// pruneLocked drops stopped VUs. Must be called with vusMu held.
func (s *VUScheduler) pruneLocked() {
	live := s.vus[:0]
	for _, vu := range s.vus {
		if vu.State() != VUStateStopped {
			live = append(live, vu)
		}
	}
	for i := len(live); i < len(s.vus); i++ {
		s.vus[i] = nil
	}
	s.vus = live
}

// LiveCount returns the number of VUs that have not stopped yet.
func (s *VUScheduler) LiveCount() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	s.pruneLocked()
	return len(s.vus)
}

// RunningCount returns the number of live VUs that were not asked to stop.
func (s *VUScheduler) RunningCount() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	return s.runningLocked()
}

func (s *VUScheduler) runningLocked() int {
	n := 0
	for _, vu := range s.vus {
		if st := vu.State(); st == VUStateStarting || st == VUStateRunning {
			n++
		}
	}
	return n
}

// SpawnedCount returns the number of VUs spawned over the scheduler's life.
func (s *VUScheduler) SpawnedCount() int64 {
	return s.spawned.Load()
}

// Scale moves the VU population toward target.
//
// If fewer than target VUs are live, the difference is spawned. If more than
// target VUs are running, the most recently spawned running VUs are asked to
// stop; they stay live until their current iteration ends.
func (s *VUScheduler) Scale(ctx context.Context, target int) (spawned, stopping int, err error) {
	if target < 0 {
		target = 0
	}

	s.vusMu.Lock()
	s.pruneLocked()
	live := len(s.vus)
	running := s.runningLocked()

	if running > target {
		excess := running - target
		for i := len(s.vus) - 1; i >= 0 && stopping < excess; i-- {
			if s.vus[i].RequestStop() {
				stopping++
			}
		}
	}
	s.vusMu.Unlock()

	for i := live; i < target; i++ {
		if _, err := s.Spawn(ctx); err != nil {
			return spawned, stopping, err
		}
		spawned++
	}
	return spawned, stopping, nil
}

// StopAll asks every VU to stop after its current iteration.
func (s *VUScheduler) StopAll() {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every VU goroutine has exited or the timeout expires.
// It returns true if all VUs stopped.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// ActiveVUs returns the live VUs in spawn order.
func (s *VUScheduler) ActiveVUs() []*VirtualUser {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	s.pruneLocked()
	out := make([]*VirtualUser, len(s.vus))
	copy(out, s.vus)
	return out
}
