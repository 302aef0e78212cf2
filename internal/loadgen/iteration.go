package loadgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/sampler"
)

var defaultExpected = StatusInRange(200, 399)

// Iteration is the handle a workload uses during one iteration.
//
// Once Fail has been called the iteration records nothing more. The first
// metric error (a kind conflict) is kept and escalated by the Invoker.
type Iteration struct {
	vu     *VirtualUser
	number int64
	env    *Env
	logger zerolog.Logger

	mu       sync.Mutex
	failed   bool
	infraErr error
}

func newIteration(vu *VirtualUser, number int64, env *Env) *Iteration {
	return &Iteration{
		vu:     vu,
		number: number,
		env:    env,
		logger: env.Logger.With().Int("vu", vu.ID).Int64("iteration", number).Logger(),
	}
}

// VU returns the ID of the virtual user running the iteration.
func (it *Iteration) VU() int {
	return it.vu.ID
}

// Number returns the iteration number within its virtual user, from 1.
func (it *Iteration) Number() int64 {
	return it.number
}

// Rand returns the virtual user's seeded sampler.
func (it *Iteration) Rand() *sampler.Sampler {
	return it.vu.rand
}

// BaseURL returns the configured target base URL.
func (it *Iteration) BaseURL() string {
	return it.env.BaseURL
}

// Var returns a configured workload variable.
func (it *Iteration) Var(name string) string {
	return it.env.Vars[name]
}

// SetData stores a value in the virtual user's scope. The scope outlives
// the iteration.
func (it *Iteration) SetData(key string, value interface{}) {
	it.vu.SetData(key, value)
}

// GetData reads a value from the virtual user's scope.
func (it *Iteration) GetData(key string) (interface{}, bool) {
	return it.vu.GetData(key)
}

// Logger returns a logger tagged with the VU and iteration.
func (it *Iteration) Logger() *zerolog.Logger {
	return &it.logger
}

// Request issues an HTTP sub-request and records http_reqs,
// http_req_duration, http_req_failed, data_sent and data_received.
func (it *Iteration) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	resp, err := it.env.Requester.Do(ctx, it.vu.ID, spec)

	expected := defaultExpected
	if spec.Expected != nil {
		expected = *spec.Expected
	}
	ok, _ := expected.Eval(resp)
	if resp.Err != nil {
		ok = false
	}

	it.AddCounter(metrics.HTTPReqs, 1)
	it.AddCounter(metrics.DataSent, float64(len(spec.Body)))
	it.AddCounter(metrics.DataReceived, float64(len(resp.Body)))
	it.AddRate(metrics.HTTPReqFailed, !ok)
	if resp.Status > 0 {
		it.AddDuration(metrics.HTTPReqDuration, resp.Duration)
		if spec.Name != "" {
			it.AddDuration(SubMetric(metrics.HTTPReqDuration, "name", spec.Name), resp.Duration)
		}
	}

	return resp, err
}

// Check evaluates each named check against the response and records the
// outcomes. It returns true when all of them passed. A failed check does not
// end the iteration.
func (it *Iteration) Check(resp *Response, checks ...Check) bool {
	all := true
	for _, c := range checks {
		ok, reason := c.Predicate.Eval(resp)
		if !ok {
			all = false
			it.logger.Debug().Str("check", c.Name).Str("reason", reason).Msg("check failed")
		}
		if it.aborted() {
			continue
		}
		it.AddRate(metrics.Checks, ok)
		it.AddRate(CheckMetric(c.Name), ok)
	}
	return all
}

// Record adds a value to a named metric.
func (it *Iteration) Record(name string, kind metrics.Kind, value float64) {
	if it.aborted() {
		return
	}
	if err := it.env.Metrics.Record(name, kind, value); err != nil {
		it.mu.Lock()
		if it.infraErr == nil {
			it.infraErr = err
		}
		it.mu.Unlock()
	}
}

// AddTrend records into a Trend.
func (it *Iteration) AddTrend(name string, value float64) {
	it.Record(name, metrics.KindTrend, value)
}

// AddDuration records a duration into a Trend, in milliseconds.
func (it *Iteration) AddDuration(name string, d time.Duration) {
	it.Record(name, metrics.KindTrend, float64(d)/float64(time.Millisecond))
}

// AddCounter records into a Counter.
func (it *Iteration) AddCounter(name string, value float64) {
	it.Record(name, metrics.KindCounter, value)
}

// AddRate records a boolean sample into a Rate.
func (it *Iteration) AddRate(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	it.Record(name, metrics.KindRate, v)
}

// Fail marks the iteration as failed and returns the error the workload
// should return. Nothing recorded afterwards is kept.
func (it *Iteration) Fail(format string, args ...interface{}) error {
	it.mu.Lock()
	it.failed = true
	it.mu.Unlock()
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// Sleep pauses the iteration. It returns early with the context's error.
func (it *Iteration) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (it *Iteration) aborted() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.failed
}

func (it *Iteration) metricError() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.infraErr
}

// SubMetric names a tagged sub-metric, e.g. http_req_duration{name:login}.
func SubMetric(metric, tag, value string) string {
	return metric + "{" + tag + ":" + value + "}"
}
