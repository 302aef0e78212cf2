// Package metrics implements the metric sink that virtual users record into.
//
// A Registry owns every named metric of a run. Metrics are created lazily on
// first record and keep their own synchronization, so concurrent virtual
// users only contend when they write to the same metric.
package metrics

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies how a metric aggregates its observations.
type Kind int

const (
	// KindCounter sums every observed value.
	KindCounter Kind = iota + 1
	// KindRate tracks the fraction of non-zero observations.
	KindRate
	// KindTrend keeps a distribution of observed values for percentile queries.
	KindTrend
	// KindGauge keeps the most recent value plus its min and max.
	KindGauge
)

func (k Kind) valid() bool {
	return k >= KindCounter && k <= KindGauge
}

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind converts a kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return KindCounter, nil
	case "rate":
		return KindRate, nil
	case "trend":
		return KindTrend, nil
	case "gauge":
		return KindGauge, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

// Errors returned by Registry.Record for values it refuses to store.
var (
	ErrUnknownKind = errors.New("unknown metric kind")
	ErrNonFinite   = errors.New("value is not finite")
)

// KindMismatchError is returned when a metric is recorded with a kind that
// differs from the kind it was created with.
type KindMismatchError struct {
	Name     string
	Existing Kind
	Got      Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("metric %q is a %s, cannot record it as a %s", e.Name, e.Existing, e.Got)
}
