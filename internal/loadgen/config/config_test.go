package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/config"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
)

const rampingYAML = `
name: orders
workload: complex-order
baseUrl: http://localhost:8080
seed: 7
startVUs: 1
stages:
  - duration: 30s
    target: 10
  - duration: 1m
    target: 10
    name: steady
  - duration: 10s
    target: 0
gracefulStop: 5s
pacing:
  type: random
  min: 500ms
  max: 2500ms
http:
  timeout: 10
  rps: 50
thresholds:
  http_req_duration:
    - "p(95)<800"
    - threshold: "p(99)<1500"
      abortOnFail: true
      delayAbortEval: 10s
  http_req_failed: ["rate<0.01"]
zeroSamplePolicy: skip
summaryTrendStats: ["avg", "p(99)"]
variables:
  tenant: acme
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := config.ParseConfig([]byte(rampingYAML), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, "complex-order", cfg.Workload)
	assert.Equal(t, int64(7), cfg.Seed)
	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Stages[0].Duration))
	assert.Equal(t, "steady", cfg.Stages[1].Name)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.HTTP.Timeout), "bare number is seconds")
	assert.Equal(t, 2500*time.Millisecond, time.Duration(cfg.Pacing.Max))

	require.Len(t, cfg.Thresholds["http_req_duration"], 2)
	assert.Equal(t, "p(95)<800", cfg.Thresholds["http_req_duration"][0].Threshold)
	assert.False(t, cfg.Thresholds["http_req_duration"][0].AbortOnFail)
	assert.Equal(t, "p(99)<1500", cfg.Thresholds["http_req_duration"][1].Threshold)
	assert.True(t, cfg.Thresholds["http_req_duration"][1].AbortOnFail)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Thresholds["http_req_duration"][1].DelayAbortEval))

	assert.Equal(t, executor.TypeRampingVUs, cfg.ExecutorType())
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"workload": "requests",
		"vus": 3,
		"duration": "1m",
		"thresholds": {"checks": ["rate>0.99", {"threshold": "rate>0.5", "abortOnFail": true}]},
		"requests": [{"name": "health", "method": "GET", "url": "{{baseUrl}}/health"}]
	}`

	cfg, err := config.ParseConfig([]byte(data), "test.json")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.VUs)
	assert.Equal(t, time.Minute, time.Duration(cfg.Duration))
	assert.Equal(t, executor.TypeConstantVUs, cfg.ExecutorType())
	require.Len(t, cfg.Thresholds["checks"], 2)
	assert.True(t, cfg.Thresholds["checks"][1].AbortOnFail)
	require.Len(t, cfg.Requests, 1)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := config.ParseConfig([]byte("{not json"), "bad.json")
	assert.Error(t, err)

	_, err = config.ParseConfig([]byte("stages: [duration: forever]"), "bad.yaml")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rampingYAML), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Name)

	_, err = config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.TestConfig{
		BaseURL:          "not a url",
		Executor:         "ramping-vus",
		Stages:           []config.StageConfig{{Duration: config.Duration(time.Second), Target: -1}},
		Pacing:           &config.PacingConfig{Type: "random", Min: config.Duration(2 * time.Second), Max: config.Duration(time.Second)},
		Thresholds:       map[string][]config.ThresholdConfig{"http_req_duration": {{Threshold: "p95<800"}}},
		ZeroSamplePolicy: "ignore",
		TrendMode:        "tdigest",
		Tracing:          config.TracingConfig{Protocol: "udp"},
		Requests: []config.RequestConfig{{
			Method: "FETCH",
			Checks: []config.CheckConfig{{Type: "status", Value: "ok"}, {Type: "schema", Schema: "{"}},
		}},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs *config.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"workload",
		"baseUrl",
		"stages[0].target",
		"pacing.max",
		"thresholds.http_req_duration[0]",
		"zeroSamplePolicy",
		"trendMode",
		"tracing.protocol",
		"requests[0].url",
		"requests[0].method",
		"requests[0].checks[0].value",
		"requests[0].checks[1].schema",
	} {
		assert.True(t, fields[want], "expected error on %s, got %v", want, verrs.Error())
	}
}

func TestValidate_Executor(t *testing.T) {
	cfg := &config.TestConfig{Workload: "requests", Executor: "per-vu-iterations"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown executor")

	cfg = &config.TestConfig{Workload: "requests", VUs: 2}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration")
}

func TestResolveVariables(t *testing.T) {
	vars := map[string]string{"host": "api.local", "id": "42"}

	assert.Equal(t, "http://api.local/orders/42", config.ResolveVariables("http://{{host}}/orders/{{ id }}", vars))
	assert.Equal(t, "/users/{{missing}}", config.ResolveVariables("/users/{{missing}}", vars))
	assert.Equal(t, "plain", config.ResolveVariables("plain", vars))
	assert.Equal(t, []string{"host", "id"}, config.Placeholders("{{host}}/{{id}}"))
}

func TestMergeVariables(t *testing.T) {
	merged := config.MergeVariables(
		map[string]string{"a": "1", "b": "2"},
		map[string]string{"b": "3"},
	)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, merged)
}

func TestApplyOverrides_Env(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://orders.internal:9000")
	t.Setenv("STAMPEDE_STAGES", "5s:2,5s:0")
	t.Setenv("STAMPEDE_SEED", "99")
	t.Setenv("STAMPEDE_TIMEOUT", "3s")

	cfg, err := config.ParseConfig([]byte(rampingYAML), "run.yaml")
	require.NoError(t, err)

	v, err := config.NewOverrides(nil)
	require.NoError(t, err)
	require.NoError(t, config.ApplyOverrides(cfg, v))

	assert.Equal(t, "http://orders.internal:9000", cfg.BaseURL)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.HTTP.Timeout))
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, 2, cfg.Stages[0].Target)
	assert.Equal(t, executor.TypeRampingVUs, cfg.ExecutorType())
}

func TestApplyOverrides_FlagsBeatEnv(t *testing.T) {
	t.Setenv("STAMPEDE_VUS", "4")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.RegisterOverrideFlags(flags)
	require.NoError(t, flags.Parse([]string{"--vus", "8", "--duration", "20s"}))

	cfg, err := config.ParseConfig([]byte(rampingYAML), "run.yaml")
	require.NoError(t, err)

	v, err := config.NewOverrides(flags)
	require.NoError(t, err)
	require.NoError(t, config.ApplyOverrides(cfg, v))

	assert.Equal(t, 8, cfg.VUs)
	assert.Equal(t, 20*time.Second, time.Duration(cfg.Duration))
	assert.Empty(t, cfg.Stages)
	assert.Equal(t, executor.TypeConstantVUs, cfg.ExecutorType())
	assert.NoError(t, cfg.Validate())
}

func TestApplyOverrides_InvalidStages(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.RegisterOverrideFlags(flags)
	require.NoError(t, flags.Parse([]string{"--stages", "10s:-1"}))

	v, err := config.NewOverrides(flags)
	require.NoError(t, err)
	assert.Error(t, config.ApplyOverrides(&config.TestConfig{}, v))
}

func TestToOptions(t *testing.T) {
	cfg, err := config.ParseConfig([]byte(rampingYAML), "run.yaml")
	require.NoError(t, err)

	w := loadgen.WorkloadFunc(func(_ context.Context, _ *loadgen.Iteration) error { return nil })
	opts, err := cfg.ToOptions(w, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "orders", opts.Name)
	assert.Equal(t, "complex-order", opts.WorkloadName)
	assert.Equal(t, executor.TypeRampingVUs, opts.Executor.Type)
	assert.Equal(t, 1, opts.Executor.StartVUs)
	require.Len(t, opts.Executor.Stages, 3)
	assert.Equal(t, time.Minute, opts.Executor.Stages[1].Duration)
	assert.Equal(t, 5*time.Second, opts.GracefulStop)
	assert.Equal(t, threshold.ZeroSampleSkip, opts.ZeroSamplePolicy)
	assert.Equal(t, []string{"avg", "p(99)"}, opts.SummaryTrendStats)
	assert.Equal(t, metrics.TrendHDR, opts.Metrics.TrendMode)
	assert.Equal(t, 10*time.Second, opts.HTTP.Timeout)
	assert.Equal(t, 50.0, opts.HTTP.RPS)
	assert.Equal(t, loadgen.PacingRandom, opts.Pacing.Type)
	assert.Equal(t, "acme", opts.Vars["tenant"])

	assert.Equal(t, 3, opts.Thresholds.Len())
	assert.True(t, opts.Thresholds.HasAbortOnFail())
}

func TestToOptions_InvalidConfig(t *testing.T) {
	cfg := &config.TestConfig{Workload: "requests"}
	_, err := cfg.ToOptions(nil, zerolog.Nop())
	assert.Error(t, err)
}
