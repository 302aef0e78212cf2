package executor

import (
	"context"
	"fmt"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// This is the simplest executor: spawn N VUs and let them run iterations
// until the duration expires. Each VU runs as fast as its pacing allows
// (closed model). It shares the ramping control loop with a single flat
// stage, so VUs that exit on their own are replaced.
type ConstantVUs struct {
	RampingVUs
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	return e.init(config)
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
