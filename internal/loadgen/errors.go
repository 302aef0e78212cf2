package loadgen

import (
	"errors"
	"fmt"
)

// ErrVULimit is returned when spawning would exceed the configured VU cap.
var ErrVULimit = errors.New("virtual user limit reached")

// FatalError aborts the current iteration only. The virtual user continues
// with its next iteration.
type FatalError struct {
	Reason string

	// Panic holds the recovered value when the iteration panicked.
	Panic interface{}
}

func (e *FatalError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("iteration panicked: %v", e.Panic)
	}
	return "iteration aborted: " + e.Reason
}

// InfraError is an engine-level failure. It aborts the whole run.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is an iteration-scoped failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsInfra reports whether err is an engine-level failure.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}
