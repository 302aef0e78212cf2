package threshold

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

// ZeroSamplePolicy decides the outcome of a threshold whose metric received
// no samples.
type ZeroSamplePolicy string

const (
	// ZeroSampleFail fails the threshold. This is the default.
	ZeroSampleFail ZeroSamplePolicy = "fail"

	// ZeroSampleSkip marks the threshold as skipped. Skipped thresholds do
	// not affect the verdict but are always reported.
	ZeroSampleSkip ZeroSamplePolicy = "skip"
)

// Status is the outcome of one threshold.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the evaluated result of one threshold.
type Outcome struct {
	Threshold Threshold `json:"threshold"`
	Status    Status    `json:"status"`
	Actual    float64   `json:"actual"`
	Samples   int64     `json:"samples"`
	Message   string    `json:"message"`
}

// Passed reports whether the outcome passed.
func (o Outcome) Passed() bool {
	return o.Status == StatusPassed
}

// Result is the verdict over a whole threshold set.
type Result struct {
	Outcomes []Outcome `json:"outcomes"`

	// Passed is the AND of every non-skipped outcome. An empty set passes.
	Passed bool `json:"passed"`
}

// Failed returns the failed outcomes.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Skipped returns the skipped outcomes.
func (r Result) Skipped() []Outcome {
	var skipped []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			skipped = append(skipped, o)
		}
	}
	return skipped
}

// Evaluator evaluates a threshold set against metric snapshots.
type Evaluator struct {
	set    Set
	policy ZeroSamplePolicy
}

// NewEvaluator creates an evaluator. An empty policy means ZeroSampleFail.
func NewEvaluator(set Set, policy ZeroSamplePolicy) *Evaluator {
	if policy == "" {
		policy = ZeroSampleFail
	}
	return &Evaluator{set: set, policy: policy}
}

// Set returns the thresholds being evaluated.
func (e *Evaluator) Set() Set {
	return e.set
}

// Percentiles returns the percentiles a snapshot must contain.
func (e *Evaluator) Percentiles() []float64 {
	return e.set.Percentiles()
}

// Evaluate evaluates every threshold against the snapshot.
func (e *Evaluator) Evaluate(snap *metrics.Snapshot) Result {
	return Evaluate(e.set, snap, e.policy)
}

// CheckAbort evaluates only the thresholds marked AbortOnFail whose delay has
// elapsed. Metrics without samples are ignored here, since a run in progress
// may simply not have reached them yet. The first failing outcome is returned.
func (e *Evaluator) CheckAbort(snap *metrics.Snapshot, elapsed time.Duration) (Outcome, bool) {
	for _, t := range e.set.All() {
		if !t.AbortOnFail || elapsed < t.DelayAbortEval {
			continue
		}
		s, ok := snap.Get(t.Metric)
		if !ok || s.Count == 0 {
			continue
		}
		if o := evaluateOne(t, s, snap.Elapsed); o.Status == StatusFailed {
			return o, true
		}
	}
	return Outcome{}, false
}

// Evaluate evaluates a threshold set against a snapshot.
//
// A threshold on a metric with zero samples fails under ZeroSampleFail and is
// skipped under ZeroSampleSkip. Overall pass is the AND of every outcome
// that was not skipped.
func Evaluate(set Set, snap *metrics.Snapshot, policy ZeroSamplePolicy) Result {
	result := Result{
		Outcomes: make([]Outcome, 0, set.Len()),
		Passed:   true,
	}

	for _, t := range set.All() {
		var o Outcome

		s, ok := snap.Get(t.Metric)
		if !ok || s.Count == 0 {
			o = zeroSampleOutcome(t, policy)
		} else {
			o = evaluateOne(t, s, snap.Elapsed)
		}

		if o.Status == StatusFailed {
			result.Passed = false
		}
		result.Outcomes = append(result.Outcomes, o)
	}

	return result
}

func zeroSampleOutcome(t Threshold, policy ZeroSamplePolicy) Outcome {
	if policy == ZeroSampleSkip {
		return Outcome{
			Threshold: t,
			Status:    StatusSkipped,
			Message:   fmt.Sprintf("%s skipped: metric %q has no samples", t.Source, t.Metric),
		}
	}
	return Outcome{
		Threshold: t,
		Status:    StatusFailed,
		Message:   fmt.Sprintf("%s failed: metric %q has no samples", t.Source, t.Metric),
	}
}

func evaluateOne(t Threshold, s metrics.Stats, elapsed time.Duration) Outcome {
	actual, err := extract(t, s, elapsed)
	if err != nil {
		return Outcome{
			Threshold: t,
			Status:    StatusFailed,
			Samples:   s.Count,
			Message:   fmt.Sprintf("%s failed: %v", t.Source, err),
		}
	}

	o := Outcome{
		Threshold: t,
		Actual:    actual,
		Samples:   s.Count,
		Status:    StatusFailed,
	}
	if compare(actual, t.Operator, t.Value) {
		o.Status = StatusPassed
	}
	o.Message = fmt.Sprintf("%s %s: %s=%.4g", t.Source, o.Status, t.StatName(), actual)
	return o
}

// extract reads the statistic a threshold compares. Counters follow k6:
// count is the summed value and rate is that sum per second.
func extract(t Threshold, s metrics.Stats, elapsed time.Duration) (float64, error) {
	switch s.Kind {
	case metrics.KindTrend:
		switch t.Stat {
		case StatAvg:
			return s.Avg, nil
		case StatMin:
			return s.Min, nil
		case StatMax:
			return s.Max, nil
		case StatMed:
			return s.Med, nil
		case StatCount:
			return float64(s.Count), nil
		case StatPercentile:
			v, ok := s.Percentile(t.Percentile)
			if !ok {
				return 0, fmt.Errorf("percentile %s was not computed", t.StatName())
			}
			return v, nil
		}
	case metrics.KindRate:
		switch t.Stat {
		case StatRate:
			return s.Rate, nil
		case StatCount:
			return float64(s.Passes), nil
		}
	case metrics.KindCounter:
		switch t.Stat {
		case StatCount:
			return s.Sum, nil
		case StatRate:
			return s.PerSecond(elapsed), nil
		}
	case metrics.KindGauge:
		switch t.Stat {
		case StatValue:
			return s.Value, nil
		case StatMin:
			return s.Min, nil
		case StatMax:
			return s.Max, nil
		}
	}
	return 0, fmt.Errorf("statistic %s is not available for %s metric %q", t.StatName(), s.Kind, t.Metric)
}
