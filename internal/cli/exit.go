package cli

import (
	"errors"
	"fmt"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
	ExitAborted          = 103
	ExitInvalidConfig    = 104
	ExitInterrupted      = 105
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitErrorf(code int, format string, args ...interface{}) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps a run report to the process exit code. A threshold abort
// counts as failed thresholds.
func ExitCode(report *engine.RunReport) int {
	switch report.Status {
	case engine.StatusPassed:
		return ExitOK
	case engine.StatusThresholdsFailed:
		return ExitThresholdsFailed
	}

	switch report.AbortCause {
	case engine.AbortThreshold:
		return ExitThresholdsFailed
	case engine.AbortOperator:
		return ExitInterrupted
	default:
		return ExitAborted
	}
}

// CodeOf returns the exit code for an error returned by a command.
func CodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
