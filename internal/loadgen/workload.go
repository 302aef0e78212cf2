// Package loadgen contains the virtual-user side of the engine: the actor
// loop, the invoker that runs one workload iteration, and the capabilities
// an iteration gets (HTTP sub-requests, checks, metrics, randomness).
package loadgen

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

// Workload is the user-supplied iteration logic. Iterate is called once per
// iteration by every virtual user and must only touch engine state through
// the Iteration it is given.
//
// Returning an error ends the iteration as a fatal failure, unless the error
// is an *InfraError, which aborts the run.
type Workload interface {
	Iterate(ctx context.Context, it *Iteration) error
}

// WorkloadFunc adapts a function to Workload.
type WorkloadFunc func(ctx context.Context, it *Iteration) error

// Iterate calls f.
func (f WorkloadFunc) Iterate(ctx context.Context, it *Iteration) error {
	return f(ctx, it)
}

// Setupper is implemented by workloads that need to run once before the
// first virtual user starts. A Setup error aborts the run.
type Setupper interface {
	Setup(ctx context.Context, env *Env) error
}

// Teardowner is implemented by workloads that need to run once after the
// last virtual user stopped.
type Teardowner interface {
	Teardown(ctx context.Context, env *Env) error
}

// Pacer is implemented by workloads that define their own sleep between
// iterations. Configured pacing takes precedence.
type Pacer interface {
	Pacing() Pacing
}

// Env holds the collaborators shared by every iteration of a run.
type Env struct {
	Metrics   *metrics.Registry
	Requester *Requester
	Logger    zerolog.Logger

	// BaseURL of the target service.
	BaseURL string

	// Vars are free-form workload variables from the configuration.
	Vars map[string]string
}

// NewEnv creates an Env with a no-op logger.
func NewEnv(registry *metrics.Registry, requester *Requester) *Env {
	return &Env{
		Metrics:   registry,
		Requester: requester,
		Logger:    zerolog.Nop(),
		Vars:      map[string]string{},
	}
}
