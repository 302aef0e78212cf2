package order_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/sampler"
	"github.com/wesleyorama2/stampede/internal/workload/order"
)

func newEnv(t *testing.T, baseURL string) *loadgen.Env {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	req := loadgen.NewRequester(loadgen.DefaultHTTPClientConfig())
	t.Cleanup(req.Close)
	env := loadgen.NewEnv(reg, req)
	env.BaseURL = baseURL
	return env
}

type orderServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []map[string]string
	status  atomic.Int32
}

func newOrderServer(t *testing.T) *orderServer {
	t.Helper()
	s := &orderServer{}
	s.status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/create_complex_order" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		s.mu.Lock()
		s.queries = append(s.queries, map[string]string{
			"userID": q.Get("userID"),
			"is_vip": q.Get("is_vip"),
			"items":  q.Get("items"),
		})
		s.mu.Unlock()
		w.WriteHeader(int(s.status.Load()))
		_, _ = w.Write([]byte(`{"orderID":"o-1"}`))
	}))
	t.Cleanup(s.Close)
	return s
}

var (
	vipUser    = regexp.MustCompile(`^user-vip-\d{1,4}$`)
	normalUser = regexp.MustCompile(`^user-normal-\d{1,4}$`)
)

func TestIterate_CreatesVIPThenNormalOrder(t *testing.T) {
	srv := newOrderServer(t)
	env := newEnv(t, srv.URL)
	w := order.New()
	require.NoError(t, w.Setup(context.Background(), env))

	res := loadgen.NewInvoker(w, env).Invoke(context.Background(), loadgen.NewVirtualUser(1, 42), 1)
	require.Equal(t, loadgen.OutcomeSuccess, res.Outcome, "err: %v", res.Err)

	require.Len(t, srv.queries, 2)
	assert.Regexp(t, vipUser, srv.queries[0]["userID"])
	assert.Equal(t, "true", srv.queries[0]["is_vip"])
	assert.Regexp(t, normalUser, srv.queries[1]["userID"])
	assert.Equal(t, "false", srv.queries[1]["is_vip"])

	snap := env.Metrics.Snapshot()
	for _, name := range []string{order.VIPOrderResponseTime, order.NormalOrderResponseTime} {
		st, ok := snap.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, int64(1), st.Count, name)
	}
	for _, tag := range []string{"CreateComplexOrder-VIP", "CreateComplexOrder-Normal"} {
		st, ok := snap.Get(loadgen.SubMetric(metrics.HTTPReqDuration, "name", tag))
		require.True(t, ok, tag)
		assert.Equal(t, int64(1), st.Count)
	}

	checks := loadgen.CheckResults(env.Metrics.Snapshot())
	require.Len(t, checks, 2)
	assert.Equal(t, "Normal order creation successful (status 200)", checks[0].Name)
	assert.Equal(t, "VIP order creation successful (status 200)", checks[1].Name)
}

func TestIterate_Non200FailsIteration(t *testing.T) {
	srv := newOrderServer(t)
	srv.status.Store(http.StatusServiceUnavailable)
	env := newEnv(t, srv.URL)
	w := order.New()
	require.NoError(t, w.Setup(context.Background(), env))

	res := loadgen.NewInvoker(w, env).Invoke(context.Background(), loadgen.NewVirtualUser(1, 42), 1)
	assert.Equal(t, loadgen.OutcomeFatal, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "Status: 503")

	assert.Len(t, srv.queries, 1, "the normal order is not attempted after the VIP order fails")

	snap := env.Metrics.Snapshot()
	vip, ok := snap.Get(order.VIPOrderResponseTime)
	require.True(t, ok, "declared during setup")
	assert.Equal(t, int64(0), vip.Count)

	failed, _ := snap.Get(metrics.IterationsFailed)
	assert.Equal(t, int64(1), failed.Passes)
}

func TestIterate_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	env := newEnv(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := loadgen.NewInvoker(order.New(), env).Invoke(ctx, loadgen.NewVirtualUser(1, 42), 1)
	assert.Equal(t, loadgen.OutcomeInterrupted, res.Outcome)
}

func TestUserID(t *testing.T) {
	s := sampler.New(7)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, vipUser, order.UserID(s, true))
		assert.Regexp(t, normalUser, order.UserID(s, false))
	}
}

func TestRandomItems(t *testing.T) {
	s := sampler.New(7)
	valid := map[string]bool{}
	for _, item := range order.Items {
		valid[item] = true
	}

	for i := 0; i < 500; i++ {
		items := strings.Split(order.RandomItems(s), ",")
		require.GreaterOrEqual(t, len(items), 1)
		require.LessOrEqual(t, len(items), 3)

		seen := map[string]bool{}
		for _, item := range items {
			assert.True(t, valid[item], item)
			assert.False(t, seen[item], "duplicate %s", item)
			seen[item] = true
		}
	}
}

func TestRandomItems_Deterministic(t *testing.T) {
	a := sampler.ForVU(42, 3)
	b := sampler.ForVU(42, 3)
	for i := 0; i < 20; i++ {
		assert.Equal(t, order.RandomItems(a), order.RandomItems(b))
	}
}

func TestOrderURL(t *testing.T) {
	got := order.OrderURL("http://localhost:8080/", "user-vip-12", true, "item-a,item-c")
	assert.Equal(t, "http://localhost:8080/create_complex_order?userID=user-vip-12&is_vip=true&items=item-a,item-c", got)
}

func TestPacing(t *testing.T) {
	p := order.New().Pacing()
	assert.Equal(t, loadgen.PacingRandom, p.Type)
	assert.Equal(t, 500*time.Millisecond, p.Min)
	assert.Equal(t, 2500*time.Millisecond, p.Max)
}
