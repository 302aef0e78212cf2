package loadgen_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/sampler"
)

// sleepyWorkload holds every iteration for d, ignoring stop requests.
func sleepyWorkload(d time.Duration, iterations *atomic.Int64) loadgen.WorkloadFunc {
	return func(ctx context.Context, it *loadgen.Iteration) error {
		if iterations != nil {
			iterations.Add(1)
		}
		return it.Sleep(ctx, d)
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadgen.VUState
		want  string
	}{
		{loadgen.VUStateStarting, "starting"},
		{loadgen.VUStateRunning, "running"},
		{loadgen.VUStateStopping, "stopping"},
		{loadgen.VUStateStopped, "stopped"},
		{loadgen.VUState(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestPacing_Next(t *testing.T) {
	s := sampler.New(7)

	assert.Zero(t, loadgen.Pacing{}.Next(s))
	assert.Equal(t, time.Second, loadgen.Pacing{Type: loadgen.PacingConstant, Duration: time.Second}.Next(s))

	random := loadgen.Pacing{Type: loadgen.PacingRandom, Min: 500 * time.Millisecond, Max: 2500 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := random.Next(s)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestVirtualUser_StopBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	vu := loadgen.NewVirtualUser(1, 1)

	assert.True(t, vu.RequestStop())
	assert.False(t, vu.RequestStop(), "second stop request is a no-op")

	vu.Run(context.Background(), loadgen.NewInvoker(sleepyWorkload(0, nil), env), loadgen.Pacing{}, nil)

	assert.Equal(t, loadgen.VUStateStopped, vu.State())
	assert.Zero(t, vu.Iterations())
}

func TestVirtualUser_StopFinishesIteration(t *testing.T) {
	env := newTestEnv(t)
	vu := loadgen.NewVirtualUser(1, 1)
	inv := loadgen.NewInvoker(sleepyWorkload(100*time.Millisecond, nil), env)

	var outcomes []loadgen.Outcome
	done := make(chan struct{})
	go func() {
		defer close(done)
		vu.Run(context.Background(), inv, loadgen.Pacing{}, func(r loadgen.Result) {
			outcomes = append(outcomes, r.Outcome)
		})
	}()

	require.Eventually(t, func() bool { return vu.Iterations() == 1 }, time.Second, 5*time.Millisecond)
	vu.RequestStop()
	assert.Equal(t, loadgen.VUStateStopping, vu.State())

	require.True(t, vu.WaitForStop(2*time.Second))
	<-done

	assert.Equal(t, loadgen.VUStateStopped, vu.State())
	assert.Equal(t, []loadgen.Outcome{loadgen.OutcomeSuccess}, outcomes, "in-flight iteration completes normally")
}

func TestVirtualUser_StopInterruptsPacing(t *testing.T) {
	env := newTestEnv(t)
	vu := loadgen.NewVirtualUser(1, 1)
	inv := loadgen.NewInvoker(sleepyWorkload(0, nil), env)

	go vu.Run(context.Background(), inv, loadgen.Pacing{Type: loadgen.PacingConstant, Duration: time.Hour}, nil)

	require.Eventually(t, func() bool { return vu.Iterations() == 1 }, time.Second, 5*time.Millisecond)
	vu.RequestStop()
	assert.True(t, vu.WaitForStop(time.Second))
}

func TestVirtualUser_ContinuesAfterFatal(t *testing.T) {
	env := newTestEnv(t)
	vu := loadgen.NewVirtualUser(1, 1)
	inv := loadgen.NewInvoker(loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		if it.Number() <= 3 {
			return it.Fail("iteration %d", it.Number())
		}
		return nil
	}), env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vu.Run(ctx, inv, loadgen.Pacing{Type: loadgen.PacingConstant, Duration: time.Millisecond}, nil)

	require.Eventually(t, func() bool { return vu.Iterations() >= 5 }, 2*time.Second, 5*time.Millisecond)
	vu.RequestStop()
	require.True(t, vu.WaitForStop(time.Second))
	assert.Equal(t, int64(3), vu.FatalIterations())
}

func TestVirtualUser_StopsOnInfra(t *testing.T) {
	env := newTestEnv(t)
	vu := loadgen.NewVirtualUser(1, 1)
	inv := loadgen.NewInvoker(loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		it.AddCounter("http_req_duration", 1)
		return nil
	}), env)

	var last loadgen.Result
	vu.Run(context.Background(), inv, loadgen.Pacing{}, func(r loadgen.Result) { last = r })

	assert.Equal(t, loadgen.OutcomeInfra, last.Outcome)
	assert.Equal(t, int64(1), vu.Iterations())
}

func TestVUScheduler_ScaleUpAndDown(t *testing.T) {
	env := newTestEnv(t)
	sched := loadgen.NewVUScheduler(
		loadgen.NewInvoker(sleepyWorkload(20*time.Millisecond, nil), env),
		loadgen.SchedulerConfig{Seed: 1},
		nil,
	)
	ctx := context.Background()

	spawned, stopping, err := sched.Scale(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, spawned)
	assert.Zero(t, stopping)
	assert.Equal(t, 5, sched.LiveCount())

	// Scaling to the same target is a no-op.
	spawned, stopping, err = sched.Scale(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, spawned)
	assert.Zero(t, stopping)

	spawned, stopping, err = sched.Scale(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, spawned)
	assert.Equal(t, 3, stopping)
	assert.Equal(t, 2, sched.RunningCount())

	// The newest VUs are the ones retired.
	require.Eventually(t, func() bool { return sched.LiveCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	active := sched.ActiveVUs()
	require.Len(t, active, 2)
	assert.Equal(t, 1, active[0].ID)
	assert.Equal(t, 2, active[1].ID)

	sched.StopAll()
	assert.True(t, sched.Wait(2*time.Second))
	assert.Zero(t, sched.LiveCount())
	assert.Equal(t, int64(5), sched.SpawnedCount())
}

func TestVUScheduler_StoppingVUsCountAsLive(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	sched := loadgen.NewVUScheduler(
		loadgen.NewInvoker(loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}), env),
		loadgen.SchedulerConfig{},
		nil,
	)
	ctx := context.Background()

	_, _, err := sched.Scale(ctx, 3)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, vu := range sched.ActiveVUs() {
			if vu.Iterations() == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	_, stopping, err := sched.Scale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stopping)

	// Two VUs are still finishing, so raising the target to 3 spawns nothing.
	spawned, _, err := sched.Scale(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, spawned)
	assert.Equal(t, 3, sched.LiveCount())
	assert.Equal(t, 1, sched.RunningCount())

	close(release)
	sched.StopAll()
	assert.True(t, sched.Wait(2*time.Second))
}

func TestVUScheduler_MaxVUs(t *testing.T) {
	env := newTestEnv(t)
	sched := loadgen.NewVUScheduler(
		loadgen.NewInvoker(sleepyWorkload(10*time.Millisecond, nil), env),
		loadgen.SchedulerConfig{MaxVUs: 2},
		nil,
	)

	spawned, _, err := sched.Scale(context.Background(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, loadgen.ErrVULimit)
	assert.True(t, loadgen.IsInfra(err))
	assert.Equal(t, 2, spawned)

	sched.StopAll()
	assert.True(t, sched.Wait(2*time.Second))
}

func TestVUScheduler_CancelInterrupts(t *testing.T) {
	env := newTestEnv(t)
	var interrupted atomic.Int64
	sched := loadgen.NewVUScheduler(
		loadgen.NewInvoker(sleepyWorkload(time.Hour, nil), env),
		loadgen.SchedulerConfig{},
		func(r loadgen.Result) {
			if r.Outcome == loadgen.OutcomeInterrupted {
				interrupted.Add(1)
			}
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	_, _, err := sched.Scale(ctx, 3)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, vu := range sched.ActiveVUs() {
			if vu.Iterations() == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	sched.StopAll()
	assert.False(t, sched.Wait(50*time.Millisecond), "graceful stop waits for the iteration")

	cancel()
	assert.True(t, sched.Wait(2*time.Second))
	assert.Equal(t, int64(3), interrupted.Load())
}
