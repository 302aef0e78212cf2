package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Add adds a validation error.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ExecutorType returns the configured executor, inferring it when unset.
func (c *TestConfig) ExecutorType() executor.Type {
	if c.Executor != "" {
		return executor.Type(c.Executor)
	}
	if len(c.Stages) > 0 {
		return executor.TypeRampingVUs
	}
	return executor.TypeConstantVUs
}

// Validate checks the whole configuration and returns every problem found
// as *ValidationErrors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if strings.TrimSpace(c.Workload) == "" {
		errs.Add("workload", "workload is required")
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("baseUrl", fmt.Sprintf("invalid URL %q", c.BaseURL))
		}
	}
	if c.MaxVUs < 0 {
		errs.Add("maxVUs", "must be >= 0")
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "must not be negative")
	}

	validateExecutor(c, errs)
	if c.Pacing != nil {
		validatePacing(c.Pacing, errs)
	}
	validateHTTP(&c.HTTP, errs)
	validateThresholds(c.Thresholds, errs)

	switch threshold.ZeroSamplePolicy(c.ZeroSamplePolicy) {
	case "", threshold.ZeroSampleFail, threshold.ZeroSampleSkip:
	default:
		errs.Add("zeroSamplePolicy", fmt.Sprintf("unknown policy %q (use fail or skip)", c.ZeroSamplePolicy))
	}
	switch metrics.TrendMode(c.TrendMode) {
	case "", metrics.TrendHDR, metrics.TrendExact:
	default:
		errs.Add("trendMode", fmt.Sprintf("unknown trend mode %q (use hdr or exact)", c.TrendMode))
	}
	if _, err := engine.SummaryPercentiles(c.SummaryTrendStats); err != nil {
		errs.Add("summaryTrendStats", err.Error())
	}

	validateTracing(&c.Tracing, errs)

	for i := range c.Requests {
		validateRequest(&c.Requests[i], fmt.Sprintf("requests[%d]", i), errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateExecutor(c *TestConfig, errs *ValidationErrors) {
	typ := c.ExecutorType()
	if !executor.IsValidExecutorType(string(typ)) {
		errs.Add("executor", fmt.Sprintf("unknown executor %q, supported: %v", c.Executor, executor.GetSupportedExecutors()))
		return
	}

	switch typ {
	case executor.TypeConstantVUs:
		if c.VUs <= 0 {
			errs.Add("vus", "must be > 0 for constant-vus")
		}
		if c.Duration <= 0 {
			errs.Add("duration", "must be > 0 for constant-vus")
		}
		if len(c.Stages) > 0 {
			errs.Add("stages", "not allowed for constant-vus")
		}
	case executor.TypeRampingVUs:
		if len(c.Stages) == 0 {
			errs.Add("stages", "at least one stage is required for ramping-vus")
		}
		if c.StartVUs < 0 {
			errs.Add("startVUs", "must be >= 0")
		}
		for i, s := range c.Stages {
			validateStage(&s, fmt.Sprintf("stages[%d]", i), errs)
		}
	}
}

func validateStage(s *StageConfig, prefix string, errs *ValidationErrors) {
	if s.Duration < 0 {
		errs.Add(prefix+".duration", "must not be negative")
	}
	if s.Target < 0 {
		errs.Add(prefix+".target", "must be >= 0")
	}
}

func validatePacing(p *PacingConfig, errs *ValidationErrors) {
	switch p.Type {
	case "", "none":
	case "constant":
		if p.Duration <= 0 {
			errs.Add("pacing.duration", "must be > 0 for constant pacing")
		}
	case "random":
		if p.Min < 0 {
			errs.Add("pacing.min", "must not be negative")
		}
		if p.Max <= 0 {
			errs.Add("pacing.max", "must be > 0 for random pacing")
		}
		if p.Max < p.Min {
			errs.Add("pacing.max", "must be >= pacing.min")
		}
	default:
		errs.Add("pacing.type", fmt.Sprintf("invalid pacing type %q (must be none, constant or random)", p.Type))
	}
}

func validateHTTP(h *HTTPConfig, errs *ValidationErrors) {
	if h.Timeout < 0 {
		errs.Add("http.timeout", "must not be negative")
	}
	if h.MaxIdleConns < 0 {
		errs.Add("http.maxIdleConns", "must be >= 0")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "must be >= 0")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "must be >= 0")
	}
	if h.RPS < 0 {
		errs.Add("http.rps", "must be >= 0")
	}
}

func validateThresholds(thresholds map[string][]ThresholdConfig, errs *ValidationErrors) {
	for metric, list := range thresholds {
		for i, tc := range list {
			field := fmt.Sprintf("thresholds.%s[%d]", metric, i)
			if _, err := threshold.Parse(metric, tc.Threshold); err != nil {
				errs.Add(field, err.Error())
			}
			if tc.DelayAbortEval < 0 {
				errs.Add(field+".delayAbortEval", "must not be negative")
			}
		}
	}
}

func validateTracing(t *TracingConfig, errs *ValidationErrors) {
	switch t.Protocol {
	case "", "grpc", "http":
	default:
		errs.Add("tracing.protocol", fmt.Sprintf("unknown protocol %q (use grpc or http)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs.Add("tracing.sampleRate", "must be between 0 and 1")
	}
}

func validateRequest(r *RequestConfig, prefix string, errs *ValidationErrors) {
	if r.URL == "" {
		errs.Add(prefix+".url", "url is required")
	}
	switch strings.ToUpper(r.Method) {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
	default:
		errs.Add(prefix+".method", fmt.Sprintf("unsupported method %q", r.Method))
	}
	if r.Timeout < 0 {
		errs.Add(prefix+".timeout", "must not be negative")
	}
	if r.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "must not be negative")
	}
	for i, code := range r.ExpectedStatus {
		if code < 100 || code > 599 {
			errs.Add(fmt.Sprintf("%s.expectedStatus[%d]", prefix, i), fmt.Sprintf("invalid status %d", code))
		}
	}

	for i, chk := range r.Checks {
		field := fmt.Sprintf("%s.checks[%d]", prefix, i)
		switch chk.Type {
		case "status":
			if _, err := strconv.Atoi(chk.Value); err != nil {
				errs.Add(field+".value", fmt.Sprintf("status check needs a numeric value, got %q", chk.Value))
			}
		case "body":
			if chk.Value == "" {
				errs.Add(field+".value", "body check needs a value")
			}
		case "jsonpath":
			if chk.Path == "" {
				errs.Add(field+".path", "jsonpath check needs a path")
			}
		case "schema":
			if _, err := jsonschema.Compile(chk.Schema); err != nil {
				errs.Add(field+".schema", err.Error())
			}
		default:
			errs.Add(field+".type", fmt.Sprintf("unknown check type %q (use status, body, jsonpath or schema)", chk.Type))
		}
	}

	for i, ext := range r.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if ext.Name == "" {
			errs.Add(field+".name", "name is required")
		}
		switch ext.Source {
		case "body", "header":
			if ext.Path == "" {
				errs.Add(field+".path", "path is required for source "+ext.Source)
			}
		case "status":
		default:
			errs.Add(field+".source", fmt.Sprintf("unknown source %q (use body, header or status)", ext.Source))
		}
	}
}
