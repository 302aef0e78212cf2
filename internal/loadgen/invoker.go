package loadgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

// Outcome classifies how an iteration ended.
type Outcome int

const (
	// OutcomeSuccess means the workload returned nil.
	OutcomeSuccess Outcome = iota
	// OutcomeFatal means the iteration was aborted by the workload or panicked.
	OutcomeFatal
	// OutcomeInterrupted means the iteration was cut short by forced
	// cancellation of the run.
	OutcomeInterrupted
	// OutcomeInfra means the engine itself failed and the run must abort.
	OutcomeInfra
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeInfra:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Invoke call.
type Result struct {
	VU        int
	Iteration int64
	Outcome   Outcome
	Err       error
	Duration  time.Duration
}

// Invoker runs exactly one iteration of a workload at a time on behalf of a
// virtual user.
type Invoker struct {
	workload Workload
	env      *Env
}

// NewInvoker creates an invoker.
func NewInvoker(workload Workload, env *Env) *Invoker {
	return &Invoker{workload: workload, env: env}
}

// Invoke runs one iteration and classifies its outcome.
//
// Completed iterations (success or fatal) are recorded into iterations,
// iteration_duration and iterations_failed. Interrupted iterations are not
// recorded since they never finished.
func (inv *Invoker) Invoke(ctx context.Context, vu *VirtualUser, number int64) Result {
	it := newIteration(vu, number, inv.env)

	start := time.Now()
	err := inv.call(ctx, it)
	res := Result{
		VU:        vu.ID,
		Iteration: number,
		Duration:  time.Since(start),
	}

	switch {
	case it.metricError() != nil:
		res.Outcome = OutcomeInfra
		res.Err = &InfraError{Op: "record metric", Err: it.metricError()}
	case IsInfra(err):
		res.Outcome = OutcomeInfra
		res.Err = err
	case err == nil:
		res.Outcome = OutcomeSuccess
	case ctx.Err() != nil && !IsFatal(err):
		res.Outcome = OutcomeInterrupted
		res.Err = err
	default:
		res.Outcome = OutcomeFatal
		res.Err = asFatal(err)
	}

	if res.Outcome == OutcomeSuccess || res.Outcome == OutcomeFatal {
		inv.recordIteration(res)
	}
	if res.Outcome == OutcomeFatal {
		it.logger.Debug().Err(res.Err).Msg("iteration failed")
	}
	return res
}

// call runs the workload, turning a panic into a fatal failure.
func (inv *Invoker) call(ctx context.Context, it *Iteration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Panic: r}
		}
	}()
	return inv.workload.Iterate(ctx, it)
}

func (inv *Invoker) recordIteration(res Result) {
	reg := inv.env.Metrics
	var errs []error
	errs = append(errs,
		reg.Add(metrics.Iterations, 1),
		reg.AddDuration(metrics.IterationDuration, res.Duration),
		reg.AddRate(metrics.IterationsFailed, res.Outcome == OutcomeFatal),
	)
	if err := errors.Join(errs...); err != nil {
		// Builtin names are declared up front, so this only happens when a
		// workload claimed one of them with another kind.
		inv.env.Logger.Error().Err(err).Msg("recording iteration metrics")
	}
}

func asFatal(err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe
	}
	return &FatalError{Reason: fmt.Sprintf("%v", err)}
}
