package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

func newScheduler(t *testing.T, iteration time.Duration) (*loadgen.VUScheduler, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	env := loadgen.NewEnv(reg, loadgen.NewRequester(loadgen.DefaultHTTPClientConfig()))

	inv := loadgen.NewInvoker(loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		return it.Sleep(ctx, iteration)
	}), env)
	return loadgen.NewVUScheduler(inv, loadgen.SchedulerConfig{Seed: 1}, nil), reg
}

func TestNewExecutor(t *testing.T) {
	for _, typ := range executor.GetSupportedExecutors() {
		e, err := executor.NewExecutor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, e.Type())
		assert.NotNil(t, executor.GetExecutorDescription(typ))
		assert.True(t, executor.IsValidExecutorType(string(typ)))
	}

	_, err := executor.NewExecutor("shared-iterations")
	assert.Error(t, err)
	assert.False(t, executor.IsValidExecutorType("shared-iterations"))
}

func TestRampingVUs_InitWrongType(t *testing.T) {
	e := executor.NewRampingVUs()
	err := e.Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second})
	assert.Error(t, err)
}

func TestCreateAndInitExecutor_InvalidConfig(t *testing.T) {
	_, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{Type: executor.TypeRampingVUs})
	require.Error(t, err)
	var ve *executor.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCalculateMaxVUs(t *testing.T) {
	assert.Equal(t, 7, executor.CalculateMaxVUs(&executor.Config{Type: executor.TypeConstantVUs, VUs: 7}))
	assert.Equal(t, 9, executor.CalculateMaxVUs(&executor.Config{
		Type:     executor.TypeRampingVUs,
		StartVUs: 2,
		Stages:   []executor.Stage{{Target: 9}, {Target: 3}},
	}))
}

// The stage shape [{10s,5},{10s,5},{5s,0}] scaled down to milliseconds.
func TestRampingVUs_NeverExceedsMaxTarget(t *testing.T) {
	scheduler, reg := newScheduler(t, 5*time.Millisecond)

	cfg := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 100 * time.Millisecond, Target: 5},
			{Duration: 100 * time.Millisecond, Target: 5},
			{Duration: 50 * time.Millisecond, Target: 0},
		},
		ControlInterval: 5 * time.Millisecond,
	}
	e, err := executor.CreateAndInitExecutor(context.Background(), cfg)
	require.NoError(t, err)

	var (
		peak int
		mu   sync.Mutex
	)
	sampleCtx, stopSampling := context.WithCancel(context.Background())
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
				live := scheduler.LiveCount()
				mu.Lock()
				if live > peak {
					peak = live
				}
				mu.Unlock()
			}
		}
	}()

	require.NoError(t, e.Run(context.Background(), scheduler, reg))
	assert.Equal(t, 1.0, e.GetProgress())

	scheduler.StopAll()
	require.True(t, scheduler.Wait(2*time.Second))
	stopSampling()
	<-sampled

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 5)
	assert.Greater(t, peak, 0)
	assert.Zero(t, scheduler.LiveCount())

	vus, ok := reg.Snapshot().Get(metrics.VUs)
	require.True(t, ok)
	assert.LessOrEqual(t, vus.Max, 5.0)
}

func TestRampingVUs_StopEndsControlLoop(t *testing.T) {
	scheduler, reg := newScheduler(t, 5*time.Millisecond)

	e, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:            executor.TypeConstantVUs,
		VUs:             2,
		Duration:        time.Hour,
		ControlInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, executor.TypeConstantVUs, e.Type())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), scheduler, reg) }()

	require.Eventually(t, func() bool { return e.GetActiveVUs() == 2 }, time.Second, 5*time.Millisecond)

	stats := e.GetStats()
	assert.Equal(t, 2, stats.TargetVUs)
	assert.Equal(t, executor.PhaseSteady, stats.Phase)
	assert.Equal(t, 1, stats.TotalStages)

	require.NoError(t, e.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// VUs are left for the caller to drain.
	assert.Equal(t, 2, scheduler.LiveCount())
	scheduler.StopAll()
	assert.True(t, scheduler.Wait(2*time.Second))
}

func TestRampingVUs_StopBeforeRun(t *testing.T) {
	scheduler, reg := newScheduler(t, 5*time.Millisecond)

	e, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:            executor.TypeConstantVUs,
		VUs:             2,
		Duration:        5 * time.Second,
		ControlInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()), "Stop is idempotent")

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), scheduler, reg))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, scheduler.LiveCount(), "no VUs are spawned after an early Stop")
	assert.Equal(t, 1.0, e.GetProgress())
}

func TestRampingVUs_SpawnFailureIsReturned(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	env := loadgen.NewEnv(reg, loadgen.NewRequester(loadgen.DefaultHTTPClientConfig()))
	inv := loadgen.NewInvoker(loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		return it.Sleep(ctx, 5*time.Millisecond)
	}), env)
	scheduler := loadgen.NewVUScheduler(inv, loadgen.SchedulerConfig{MaxVUs: 1}, nil)

	e, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      3,
		Duration: time.Hour,
	})
	require.NoError(t, err)

	err = e.Run(context.Background(), scheduler, reg)
	assert.ErrorIs(t, err, loadgen.ErrVULimit)

	scheduler.StopAll()
	assert.True(t, scheduler.Wait(2*time.Second))
}
