// Package engine provides the run controller: it drives the executor, drains
// the virtual users, evaluates thresholds and produces the RunReport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
	"github.com/wesleyorama2/stampede/internal/loadgen/tracing"
)

var (
	// ErrInvalidOptions wraps every error New returns for bad Options.
	ErrInvalidOptions = errors.New("invalid run options")

	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("run already started")
)

// State is the run controller's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRamping
	StateDraining
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Engine is the run controller.
//
// It coordinates:
//   - Workload setup and teardown
//   - The executor that scales VUs over time
//   - Periodic abort-on-fail threshold checks
//   - Graceful, then forced, draining of VUs
//   - Sealing the metrics and the final threshold verdict
//
// Example usage:
//
//	eng, _ := engine.New(opts)
//	report, _ := eng.Run(ctx)
//	fmt.Println(report.Status)
type Engine struct {
	opts        Options
	logger      zerolog.Logger
	registry    *metrics.Registry
	exec        executor.Executor
	evaluator   *threshold.Evaluator
	percentiles []float64

	state     atomic.Int32
	startNano atomic.Int64

	iterations  atomic.Int64
	fatal       atomic.Int64
	interrupted atomic.Int64

	abortOnce   sync.Once
	abortCh     chan struct{}
	abortMu     sync.Mutex
	abortCause  AbortCause
	abortReason string
}

// New validates opts and prepares a run. The metric registry exists from
// here on, so it can be exposed before Run starts.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	exec, err := executor.CreateAndInitExecutor(context.Background(), &opts.Executor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	registry := metrics.NewRegistryWithConfig(opts.Metrics)
	if err := registry.DeclareBuiltins(); err != nil {
		return nil, err
	}

	summary, _ := SummaryPercentiles(opts.SummaryTrendStats)

	return &Engine{
		opts:        opts,
		logger:      opts.Logger,
		registry:    registry,
		exec:        exec,
		evaluator:   threshold.NewEvaluator(opts.Thresholds, opts.ZeroSamplePolicy),
		percentiles: unionPercentiles(summary, opts.Thresholds.Percentiles()),
		abortCh:     make(chan struct{}),
	}, nil
}

// Registry returns the run's metric registry.
func (e *Engine) Registry() *metrics.Registry {
	return e.registry
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Run executes the run and blocks until it is finished.
//
// Cancelling ctx is an operator abort: VUs are drained gracefully as for any
// other end of run. Aborts are reported in the RunReport, not as an error;
// the error is reserved for runs that could not start.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRamping)) {
		return nil, ErrAlreadyStarted
	}

	start := time.Now()
	e.startNano.Store(start.UnixNano())
	runID := ulid.Make().String()
	log := e.logger.With().Str("run_id", runID).Logger()

	provider, err := tracing.Init(ctx, e.opts.Tracing)
	if err != nil {
		e.state.Store(int32(StateFinished))
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	requester := loadgen.NewRequester(e.opts.HTTP, loadgen.WithTracing(provider))
	defer requester.Close()

	env := loadgen.NewEnv(e.registry, requester)
	env.Logger = log
	env.BaseURL = e.opts.BaseURL
	env.Vars = e.opts.Vars

	log.Info().
		Str("workload", e.opts.WorkloadName).
		Str("executor", string(e.opts.Executor.Type)).
		Dur("duration", e.opts.Executor.TotalDuration()).
		Int("max_vus", executor.CalculateMaxVUs(&e.opts.Executor)).
		Msg("run started")

	// Iterations only stop on their own once draining gives up on them, so
	// they get a context that survives ctx being cancelled.
	iterCtx, forceCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer forceCancel()

	var scheduler *loadgen.VUScheduler
	if e.setup(ctx, env) {
		inv := loadgen.NewInvoker(e.opts.Workload, env)
		scheduler = loadgen.NewVUScheduler(inv, loadgen.SchedulerConfig{
			Seed:   e.opts.Seed,
			MaxVUs: e.opts.MaxVUs,
			Pacing: e.pacing(),
		}, e.onResult)
		e.ramp(ctx, iterCtx, scheduler, start, log)
	}

	e.state.Store(int32(StateDraining))
	if scheduler != nil {
		e.drain(scheduler, forceCancel, log)
	}
	if err := e.registry.SetGauge(metrics.VUs, 0); err != nil {
		log.Error().Err(err).Msg("resetting vus gauge")
	}
	e.registry.Seal()

	snap := e.registry.Snapshot(e.percentiles...)
	result := e.evaluator.Evaluate(snap)
	for _, o := range result.Skipped() {
		log.Warn().
			Str("metric", o.Threshold.Metric).
			Str("threshold", o.Threshold.Source).
			Msg("threshold skipped: metric has no samples")
	}

	report := &RunReport{
		RunID:                 runID,
		Name:                  e.opts.Name,
		Workload:              e.opts.WorkloadName,
		StartTime:             start,
		Iterations:            e.iterations.Load(),
		FatalIterations:       e.fatal.Load(),
		InterruptedIterations: e.interrupted.Load(),
		Metrics:               snap,
		SummaryTrendStats:     append([]string(nil), e.opts.SummaryTrendStats...),
		Thresholds:            result,
		Checks:                loadgen.CheckResults(snap),
		Passed:                result.Passed,
	}
	if vus, ok := snap.Get(metrics.VUs); ok {
		report.PeakVUs = int(vus.Max)
	}

	if t, ok := e.opts.Workload.(loadgen.Teardowner); ok {
		if err := t.Teardown(context.WithoutCancel(ctx), env); err != nil {
			log.Error().Err(err).Msg("teardown failed")
			report.TeardownError = err.Error()
		}
	}

	report.Aborted, report.AbortCause, report.AbortReason = e.abortState()
	switch {
	case report.Aborted:
		report.Status = StatusAborted
	case !result.Passed:
		report.Status = StatusThresholdsFailed
	default:
		report.Status = StatusPassed
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(start)
	report.DroppedObservations = e.registry.Dropped()
	e.state.Store(int32(StateFinished))

	log.Info().
		Str("status", string(report.Status)).
		Int64("iterations", report.Iterations).
		Int64("fatal_iterations", report.FatalIterations).
		Dur("duration", report.Duration).
		Msg("run finished")

	return report, nil
}

// setup runs the workload's Setup, if any. It returns false if the run must
// not start.
func (e *Engine) setup(ctx context.Context, env *loadgen.Env) bool {
	s, ok := e.opts.Workload.(loadgen.Setupper)
	if !ok {
		return true
	}
	if err := s.Setup(ctx, env); err != nil {
		if ctx.Err() != nil {
			e.abort(AbortOperator, ctx.Err())
		} else {
			e.abort(AbortInfra, &loadgen.InfraError{Op: "setup", Err: err})
		}
		return false
	}
	return true
}

func (e *Engine) pacing() loadgen.Pacing {
	if e.opts.Pacing.Type != "" {
		return e.opts.Pacing
	}
	if p, ok := e.opts.Workload.(loadgen.Pacer); ok {
		return p.Pacing()
	}
	return loadgen.Pacing{Type: loadgen.PacingNone}
}

// ramp runs the executor until the plan ends or the run is aborted.
func (e *Engine) ramp(ctx, iterCtx context.Context, scheduler *loadgen.VUScheduler, start time.Time, log zerolog.Logger) {
	execDone := make(chan error, 1)
	go func() {
		execDone <- e.exec.Run(iterCtx, scheduler, e.registry)
	}()

	var tick <-chan time.Time
	if e.opts.Thresholds.HasAbortOnFail() {
		ticker := time.NewTicker(e.opts.ThresholdInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case err := <-execDone:
			if err != nil {
				e.abort(AbortInfra, err)
			}
			return

		case <-tick:
			e.checkAbortThresholds(time.Since(start))
			continue

		case <-ctx.Done():
			e.abort(AbortOperator, ctx.Err())

		case <-e.abortCh:
		}

		if err := e.exec.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("stopping executor")
		}
		if err := <-execDone; err != nil {
			log.Warn().Err(err).Msg("executor error after abort")
		}
		return
	}
}

func (e *Engine) checkAbortThresholds(elapsed time.Duration) {
	snap := e.registry.Snapshot(e.evaluator.Percentiles()...)
	if o, failed := e.evaluator.CheckAbort(snap, elapsed); failed {
		e.abort(AbortThreshold, fmt.Errorf("threshold %q on %s failed: %s",
			o.Threshold.Source, o.Threshold.Metric, o.Message))
	}
}

// drain stops every VU, gracefully first. In-flight iterations are cancelled
// once GracefulStop has passed.
func (e *Engine) drain(scheduler *loadgen.VUScheduler, forceCancel context.CancelFunc, log zerolog.Logger) {
	scheduler.StopAll()
	if scheduler.Wait(e.opts.GracefulStop) {
		return
	}

	log.Warn().
		Int("live_vus", scheduler.LiveCount()).
		Dur("graceful_stop", e.opts.GracefulStop).
		Msg("graceful stop timed out, interrupting iterations")
	forceCancel()

	if !scheduler.Wait(e.opts.ForceStopTimeout) {
		log.Error().
			Int("live_vus", scheduler.LiveCount()).
			Msg("VUs did not stop after cancellation")
	}
}

// onResult is called by every VU after each iteration.
func (e *Engine) onResult(res loadgen.Result) {
	switch res.Outcome {
	case loadgen.OutcomeSuccess:
		e.iterations.Add(1)
	case loadgen.OutcomeFatal:
		e.iterations.Add(1)
		e.fatal.Add(1)
		if e.opts.AbortOnFatal {
			e.abort(AbortFatal, res.Err)
		}
	case loadgen.OutcomeInterrupted:
		e.interrupted.Add(1)
	case loadgen.OutcomeInfra:
		e.abort(AbortInfra, res.Err)
	}
}

// abort records the first abort cause and signals the controller.
func (e *Engine) abort(cause AbortCause, err error) {
	e.abortOnce.Do(func() {
		reason := string(cause)
		if err != nil {
			reason = err.Error()
		}

		e.abortMu.Lock()
		e.abortCause = cause
		e.abortReason = reason
		e.abortMu.Unlock()

		e.logger.Warn().Str("cause", string(cause)).Str("reason", reason).Msg("aborting run")
		close(e.abortCh)
	})
}

func (e *Engine) abortState() (bool, AbortCause, string) {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	return e.abortCause != AbortNone, e.abortCause, e.abortReason
}

// Stop asks a running Run to end early. VUs finish their current iteration
// as usual. The report is marked as aborted by the operator.
func (e *Engine) Stop() {
	e.abort(AbortOperator, errors.New("stop requested"))
}

// Progress returns the share of the plan that has elapsed (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	switch e.State() {
	case StateIdle:
		return 0
	case StateFinished:
		return 1
	}
	return e.exec.GetProgress()
}

// LiveStats is a point-in-time view of a run for progress displays.
type LiveStats struct {
	State           State          `json:"state"`
	Elapsed         time.Duration  `json:"elapsed"`
	Progress        float64        `json:"progress"`
	ActiveVUs       int            `json:"activeVUs"`
	TargetVUs       int            `json:"targetVUs"`
	Stage           int            `json:"stage"`
	TotalStages     int            `json:"totalStages"`
	Phase           executor.Phase `json:"phase"`
	Iterations      int64          `json:"iterations"`
	FatalIterations int64          `json:"fatalIterations"`
}

// LiveStats returns the current progress of the run.
func (e *Engine) LiveStats() LiveStats {
	stats := e.exec.GetStats()
	ls := LiveStats{
		State:           e.State(),
		Progress:        e.Progress(),
		ActiveVUs:       stats.ActiveVUs,
		TargetVUs:       stats.TargetVUs,
		Stage:           stats.CurrentStage,
		TotalStages:     stats.TotalStages,
		Phase:           stats.Phase,
		Iterations:      e.iterations.Load(),
		FatalIterations: e.fatal.Load(),
	}
	if n := e.startNano.Load(); n != 0 {
		ls.Elapsed = time.Since(time.Unix(0, n))
	}
	return ls
}
