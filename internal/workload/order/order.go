// Package order implements the complex-order workload: every iteration
// creates one VIP order and one normal order against the order service.
package order

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/sampler"
)

// Name is the registered workload name.
const Name = "complex-order"

// Metric names recorded by the workload.
const (
	VIPOrderResponseTime    = "vip_order_response_time"
	NormalOrderResponseTime = "normal_order_response_time"
)

// DefaultBaseURL is used when the run has no base URL.
const DefaultBaseURL = "http://localhost:8080"

const requestTimeout = 10 * time.Second

// Items is the catalogue orders draw from.
var Items = []string{"item-a", "item-b", "item-c", "item-d", "item-e"}

type class struct {
	vip       bool
	tag       string
	checkName string
	trend     string
}

var classes = []class{
	{vip: true, tag: "CreateComplexOrder-VIP", checkName: "VIP order creation successful (status 200)", trend: VIPOrderResponseTime},
	{vip: false, tag: "CreateComplexOrder-Normal", checkName: "Normal order creation successful (status 200)", trend: NormalOrderResponseTime},
}

// Workload is the complex-order workload.
type Workload struct{}

// New creates the workload.
func New() *Workload {
	return &Workload{}
}

// Pacing sleeps uniformly between 0.5s and 2.5s after each iteration.
func (w *Workload) Pacing() loadgen.Pacing {
	return loadgen.Pacing{Type: loadgen.PacingRandom, Min: 500 * time.Millisecond, Max: 2500 * time.Millisecond}
}

// Setup declares the per-class trends so thresholds on them report even if
// no order succeeds.
func (w *Workload) Setup(_ context.Context, env *loadgen.Env) error {
	for _, c := range classes {
		if err := env.Metrics.Declare(c.trend, metrics.KindTrend); err != nil {
			return err
		}
	}
	return nil
}

// Iterate creates a VIP order, then a normal order. A non-200 response
// fails the iteration.
func (w *Workload) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	base := it.BaseURL()
	if base == "" {
		base = DefaultBaseURL
	}

	for _, c := range classes {
		resp, err := it.Request(ctx, loadgen.RequestSpec{
			Method:  http.MethodPost,
			URL:     OrderURL(base, UserID(it.Rand(), c.vip), c.vip, RandomItems(it.Rand())),
			Timeout: requestTimeout,
			Name:    c.tag,
		})
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		ok := it.Check(resp, loadgen.Check{Name: c.checkName, Predicate: loadgen.StatusEquals(http.StatusOK)})
		if !ok {
			return it.Fail("%s request failed. Status: %d, Body: %s", c.tag, resp.Status, truncate(resp.Body, 256))
		}
		it.AddDuration(c.trend, resp.Duration)
	}
	return nil
}

// UserID returns "user-vip-N" or "user-normal-N" with N in [0, 10000).
func UserID(s *sampler.Sampler, vip bool) string {
	prefix := "normal"
	if vip {
		prefix = "vip"
	}
	return fmt.Sprintf("user-%s-%d", prefix, s.Intn(10000))
}

// RandomItems draws one to three items with replacement and joins the
// distinct ones with commas.
func RandomItems(s *sampler.Sampler) string {
	return strings.Join(sampler.PickDistinct(s, Items, s.IntBetween(1, 3)), ",")
}

// OrderURL builds the create_complex_order request URL.
func OrderURL(base, userID string, vip bool, items string) string {
	return fmt.Sprintf("%s/create_complex_order?userID=%s&is_vip=%t&items=%s",
		strings.TrimSuffix(base, "/"), userID, vip, items)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
