package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
)

// Status is the overall verdict of a run.
type Status string

const (
	StatusPassed           Status = "passed"
	StatusThresholdsFailed Status = "thresholds_failed"
	StatusAborted          Status = "aborted"
)

// AbortCause says why a run was aborted.
type AbortCause string

const (
	AbortNone      AbortCause = ""
	AbortOperator  AbortCause = "operator"
	AbortThreshold AbortCause = "threshold"
	AbortFatal     AbortCause = "fatal"
	AbortInfra     AbortCause = "infrastructure"
)

// RunReport is the immutable result of a finished run.
type RunReport struct {
	RunID    string `json:"runId"`
	Name     string `json:"name,omitempty"`
	Workload string `json:"workload,omitempty"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Iterations counts completed iterations, successful or fatal.
	Iterations            int64 `json:"iterations"`
	FatalIterations       int64 `json:"fatalIterations"`
	InterruptedIterations int64 `json:"interruptedIterations"`
	PeakVUs               int   `json:"peakVUs"`

	Metrics           *metrics.Snapshot     `json:"metrics"`
	SummaryTrendStats []string              `json:"summaryTrendStats"`
	Thresholds        threshold.Result      `json:"thresholds"`
	Checks            []loadgen.CheckResult `json:"checks,omitempty"`

	// Passed is the AND of every threshold that was not skipped.
	Passed bool   `json:"passed"`
	Status Status `json:"status"`

	Aborted     bool       `json:"aborted"`
	AbortCause  AbortCause `json:"abortCause,omitempty"`
	AbortReason string     `json:"abortReason,omitempty"`

	// TeardownError is set when the workload's Teardown failed.
	TeardownError string `json:"teardownError,omitempty"`

	// DroppedObservations were recorded after the metrics were sealed.
	DroppedObservations int64 `json:"droppedObservations"`
}

// Failed returns the failed thresholds.
func (r *RunReport) Failed() []threshold.Outcome {
	return r.Thresholds.Failed()
}
