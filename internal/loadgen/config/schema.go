// Package config provides configuration parsing and validation for runs.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration of a run.
//
// Example YAML:
//
//	name: complex-order
//	workload: complex-order
//	baseUrl: http://localhost:8080
//	stages:
//	  - duration: 30s
//	    target: 10
//	  - duration: 1m
//	    target: 10
//	  - duration: 10s
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(95)<800"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Workload is the registered workload to run.
	Workload string `json:"workload" yaml:"workload"`

	// BaseURL of the target service. API_BASE_URL overrides it.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Seed for the per-VU random samplers.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Executor is "constant-vus" or "ramping-vus". When empty it is inferred:
	// stages mean ramping-vus, otherwise constant-vus.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// VUs and Duration for constant-vus
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs and Stages for ramping-vus
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// MaxVUs caps the live VU count (0 = no cap)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// HTTP client settings
	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`

	// Thresholds maps a metric name to its pass/fail conditions.
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// ZeroSamplePolicy is "fail" (default) or "skip".
	ZeroSamplePolicy string `json:"zeroSamplePolicy,omitempty" yaml:"zeroSamplePolicy,omitempty"`

	// AbortOnFatal aborts the run on the first fatal iteration.
	AbortOnFatal bool `json:"abortOnFatal,omitempty" yaml:"abortOnFatal,omitempty"`

	// SummaryTrendStats lists the trend statistics in the summary.
	SummaryTrendStats []string `json:"summaryTrendStats,omitempty" yaml:"summaryTrendStats,omitempty"`

	// TrendMode is "hdr" (default) or "exact".
	TrendMode string `json:"trendMode,omitempty" yaml:"trendMode,omitempty"`

	// Tracing configures OpenTelemetry export and propagation.
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`

	// Variables are available to workloads and to {{var}} substitution.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Requests is the request list of the "requests" workload.
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// HTTPConfig contains HTTP client settings.
type HTTPConfig struct {
	// Timeout is the default request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	MaxIdleConns        int  `json:"maxIdleConns,omitempty" yaml:"maxIdleConns,omitempty"`
	MaxIdleConnsPerHost int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int  `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives   bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// RPS caps requests per second across all VUs (0 = unlimited)
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate  float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
	ServiceName string  `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	Propagate   bool    `json:"propagate,omitempty" yaml:"propagate,omitempty"`
}

// ThresholdConfig is one threshold. It is written either as a bare
// expression ("p(95)<800") or as an object with abort settings.
type ThresholdConfig struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// thresholdObject avoids recursing into ThresholdConfig's unmarshalers.
type thresholdObject struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = ThresholdConfig{Threshold: value.Value}
		return nil
	}
	var obj thresholdObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*t = ThresholdConfig{Threshold: expr}
		return nil
	}
	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// RequestConfig defines a single HTTP request of the "requests" workload.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// ExpectedStatus lists the statuses that do not count as failed
	// requests. Default is any 2xx or 3xx.
	ExpectedStatus []int `json:"expectedStatus,omitempty" yaml:"expectedStatus,omitempty"`

	// FailOnCheck ends the iteration as failed when a check fails.
	FailOnCheck bool `json:"failOnCheck,omitempty" yaml:"failOnCheck,omitempty"`

	// Checks validate the response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract defines variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// CheckConfig defines a named response check.
type CheckConfig struct {
	// Name of the check in reports. Defaults to a description of the check.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is "status", "body", "jsonpath" or "schema".
	Type string `json:"type" yaml:"type"`

	// Value is the expected status, body substring or JSON value.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the JSONPath for "jsonpath" checks.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON schema for "schema" checks.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// A bare number is read as seconds.
type Duration time.Duration

// ParseDuration parses a duration string (e.g., "30s", "2m", "1h30m").
// An empty string is zero and a bare integer is a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
