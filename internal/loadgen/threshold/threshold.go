// Package threshold parses and evaluates pass/fail conditions over metric
// statistics, using the k6 expression syntax ("p(95)<800", "rate<0.1").
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
)

// Stat names the aggregated statistic a threshold compares.
type Stat string

const (
	StatAvg        Stat = "avg"
	StatMin        Stat = "min"
	StatMax        Stat = "max"
	StatMed        Stat = "med"
	StatCount      Stat = "count"
	StatRate       Stat = "rate"
	StatValue      Stat = "value"
	StatPercentile Stat = "p"
)

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Threshold is a single condition on one metric, e.g. p(95) < 800 on
// http_req_duration.
type Threshold struct {
	// Metric is the name of the metric the threshold reads.
	Metric string `json:"metric"`

	// Source is the expression as written, e.g. "p(95)<800".
	Source string `json:"source"`

	Stat       Stat     `json:"stat"`
	Percentile float64  `json:"percentile,omitempty"`
	Operator   Operator `json:"operator"`
	Value      float64  `json:"value"`

	// AbortOnFail stops the run as soon as the threshold fails during a
	// periodic evaluation.
	AbortOnFail bool `json:"abortOnFail,omitempty"`

	// DelayAbortEval postpones AbortOnFail checks until the run has been
	// going for at least this long.
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty"`
}

var expressionPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|value|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)\s*$`,
)

// Parse parses a threshold expression for the given metric.
//
// Supported forms:
//   - "p(95)<800", "p(99.9) <= 1500"
//   - "avg<200", "med<150", "min>0", "max<=2000"
//   - "count>10", "rate<0.1", "value<50"
func Parse(metric, expr string) (Threshold, error) {
	if strings.TrimSpace(metric) == "" {
		return Threshold{}, fmt.Errorf("threshold %q has no metric", expr)
	}

	m := expressionPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q for metric %q (expected e.g. \"p(95)<800\" or \"rate<0.1\")", expr, metric)
	}

	t := Threshold{
		Metric:   metric,
		Source:   strings.TrimSpace(expr),
		Stat:     Stat(m[1]),
		Operator: Operator(m[3]),
	}

	if m[2] != "" {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid percentile in %q: %w", expr, err)
		}
		if p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("percentile in %q must be between 0 and 100", expr)
		}
		t.Stat = StatPercentile
		t.Percentile = p
	}

	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value in %q: %w", expr, err)
	}
	t.Value = v

	return t, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compiled-in defaults.
func MustParse(metric, expr string) Threshold {
	t, err := Parse(metric, expr)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns "metric: expression".
func (t Threshold) String() string {
	return t.Metric + ": " + t.Source
}

// StatName returns the statistic as it appears in expressions, e.g. "p(95)".
func (t Threshold) StatName() string {
	if t.Stat == StatPercentile {
		return metrics.PercentileKey(t.Percentile)
	}
	return string(t.Stat)
}

// Set holds thresholds grouped by metric. All thresholds of a metric must
// pass for the metric to pass.
type Set map[string][]Threshold

// ParseSet parses expressions grouped by metric name. Every invalid
// expression is reported, not just the first.
func ParseSet(exprs map[string][]string) (Set, error) {
	set := make(Set, len(exprs))
	var problems []string

	for _, metric := range sortedKeys(exprs) {
		for i, expr := range exprs[metric] {
			t, err := Parse(metric, expr)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s[%d]: %v", metric, i, err))
				continue
			}
			set[metric] = append(set[metric], t)
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return set, nil
}

// Add appends a threshold to the set.
func (s Set) Add(t Threshold) {
	s[t.Metric] = append(s[t.Metric], t)
}

// Metrics returns the sorted metric names referenced by the set.
func (s Set) Metrics() []string {
	return sortedKeys(s)
}

// Len returns the number of thresholds in the set.
func (s Set) Len() int {
	n := 0
	for _, ts := range s {
		n += len(ts)
	}
	return n
}

// All returns every threshold ordered by metric name, then declaration.
func (s Set) All() []Threshold {
	all := make([]Threshold, 0, s.Len())
	for _, metric := range s.Metrics() {
		all = append(all, s[metric]...)
	}
	return all
}

// Percentiles returns the distinct percentiles the set needs from a
// snapshot, sorted.
func (s Set) Percentiles() []float64 {
	seen := make(map[float64]bool)
	var ps []float64
	for _, ts := range s {
		for _, t := range ts {
			if t.Stat == StatPercentile && !seen[t.Percentile] {
				seen[t.Percentile] = true
				ps = append(ps, t.Percentile)
			}
		}
	}
	sort.Float64s(ps)
	return ps
}

// HasAbortOnFail reports whether any threshold in the set aborts on failure.
func (s Set) HasAbortOnFail() bool {
	for _, ts := range s {
		for _, t := range ts {
			if t.AbortOnFail {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const epsilon = 1e-9

func compare(actual float64, op Operator, expected float64) bool {
	switch op {
	case OpLess:
		return actual < expected
	case OpLessEqual:
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case OpGreater:
		return actual > expected
	case OpGreaterEqual:
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case OpEqual:
		return math.Abs(actual-expected) < epsilon
	case OpNotEqual:
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
