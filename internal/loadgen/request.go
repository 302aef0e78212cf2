package loadgen

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/loadgen/tracing"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout is the default per-request timeout
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// RPS caps the request rate across all VUs. Zero means unlimited.
	RPS float64
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// RequestSpec describes one sub-request of an iteration.
type RequestSpec struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string

	// Timeout overrides the client default for this request.
	Timeout time.Duration

	// Name classifies the request. Durations are additionally recorded into
	// http_req_duration{name:<Name>}.
	Name string

	// Tags are free-form labels carried on the response.
	Tags map[string]string

	// Expected decides whether the request counts as failed in
	// http_req_failed. Defaults to StatusInRange(200, 399).
	Expected *Predicate
}

// Response is the completed sub-request.
type Response struct {
	Name     string
	Method   string
	URL      string
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
	Tags     map[string]string

	// Err is set when the request did not complete at the transport level.
	Err error
}

// OK reports whether the request completed with a 2xx status.
func (r *Response) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Requester issues HTTP sub-requests on behalf of every VU. It shares one
// connection pool, an optional global rate limit and the tracer.
type Requester struct {
	client    *http.Client
	config    HTTPClientConfig
	limiter   *rate.Limiter
	tracer    trace.Tracer
	propagate bool
}

// RequesterOption customizes a Requester.
type RequesterOption func(*Requester)

// WithTracing attaches a tracing provider.
func WithTracing(p *tracing.Provider) RequesterOption {
	return func(r *Requester) {
		r.tracer = p.Tracer()
		r.propagate = p.ShouldPropagate()
	}
}

// WithHTTPClient replaces the pooled client, mainly for tests.
func WithHTTPClient(c *http.Client) RequesterOption {
	return func(r *Requester) {
		r.client = c
	}
}

// NewRequester creates a Requester from the client configuration.
func NewRequester(cfg HTTPClientConfig, opts ...RequesterOption) *Requester {
	r := &Requester{
		config: cfg,
		client: newHTTPClient(cfg),
		tracer: tracing.NoopTracer(),
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	// Timeouts are applied per request through the context.
	return &http.Client{Transport: transport}
}

// Do executes the request. The returned Response is never nil; transport
// failures are reported both in Response.Err and as the error result.
func (r *Requester) Do(ctx context.Context, vu int, spec RequestSpec) (*Response, error) {
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	resp := &Response{
		Name:   spec.Name,
		Method: method,
		URL:    spec.URL,
		Tags:   spec.Tags,
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			resp.Err = fmt.Errorf("rate limiter: %w", err)
			return resp, resp.Err
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := tracing.StartRequestSpan(ctx, r.tracer, method, spec.Name, vu)

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		resp.Err = fmt.Errorf("build request: %w", err)
		tracing.EndSpan(span, 0, resp.Err)
		return resp, resp.Err
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if r.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := time.Now()
	httpResp, err := r.client.Do(req)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Err = err
		tracing.EndSpan(span, 0, err)
		return resp, err
	}
	defer httpResp.Body.Close()

	// Reading the body is part of the measured duration.
	data, err := io.ReadAll(httpResp.Body)
	resp.Duration = time.Since(start)
	resp.Status = httpResp.StatusCode
	resp.Headers = httpResp.Header
	resp.Body = data
	if err != nil {
		resp.Err = fmt.Errorf("read response body: %w", err)
	}

	tracing.EndSpan(span, resp.Status, resp.Err)
	return resp, resp.Err
}

// Close releases idle connections.
func (r *Requester) Close() {
	r.client.CloseIdleConnections()
}
