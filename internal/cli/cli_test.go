package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/workload"
)

func targetServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(ctx context.Context, args ...string) (string, error) {
	cmd := NewRootCmd(workload.Default())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-format", "json", "--log-level", "error"))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

const baseConfig = `
name: smoke
workload: requests
vus: 2
duration: 1s
gracefulStop: 2s
pacing:
  type: constant
  duration: 50ms
requests:
  - name: health
    url: /health
`

func TestRun_Passes(t *testing.T) {
	srv := targetServer(t, http.StatusOK)
	path := writeConfig(t, baseConfig+`
thresholds:
  http_req_failed: ["rate<0.5"]
`)
	dir := t.TempDir()
	export := filepath.Join(dir, "summary.json")
	htmlReport := filepath.Join(dir, "report.html")

	out, err := execute(context.Background(), "run", path, "--base-url", srv.URL,
		"--summary-export", export, "--html-report", htmlReport)
	require.NoError(t, err)
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "http_req_failed")

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "passed", report["status"])
	assert.Greater(t, report["iterations"], float64(0))

	html, err := os.ReadFile(htmlReport)
	require.NoError(t, err)
	assert.Contains(t, string(html), "PASSED")
}

func TestRun_ThresholdsFailed(t *testing.T) {
	srv := targetServer(t, http.StatusOK)
	path := writeConfig(t, baseConfig+`
thresholds:
  http_reqs: ["count<1"]
`)

	out, err := execute(context.Background(), "run", path, "--base-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitThresholdsFailed, CodeOf(err))
	assert.Contains(t, out, "THRESHOLDS FAILED")
}

func TestRun_AbortOnFatal(t *testing.T) {
	srv := targetServer(t, http.StatusInternalServerError)
	path := writeConfig(t, `
workload: requests
vus: 1
duration: 30s
abortOnFatal: true
requests:
  - url: /orders
    failOnCheck: true
    checks:
      - type: status
        value: "200"
`)

	out, err := execute(context.Background(), "run", path, "--base-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitAborted, CodeOf(err))
	assert.Contains(t, out, "ABORTED")
	assert.Contains(t, err.Error(), "fatal")
}

func TestRun_Interrupted(t *testing.T) {
	srv := targetServer(t, http.StatusOK)
	path := writeConfig(t, baseConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := execute(ctx, "run", path, "--base-url", srv.URL, "--duration", "30s")
	require.Error(t, err)
	assert.Equal(t, ExitInterrupted, CodeOf(err))
	assert.Less(t, time.Since(start), 10*time.Second, "an interrupt before ramping must not wait out the plan")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
workload: requests
vus: 0
requests:
  - url: /x
`)

	_, err := execute(context.Background(), "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, CodeOf(err))
	assert.Contains(t, err.Error(), "vus")
}

func TestRun_UnknownWorkload(t *testing.T) {
	_, err := execute(context.Background(), "run", "--workload", "nope", "--vus", "1", "--duration", "1s")
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, CodeOf(err))
	assert.Contains(t, err.Error(), "unknown workload")
}

func TestRun_MissingFile(t *testing.T) {
	_, err := execute(context.Background(), "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitInvalidConfig, CodeOf(err))
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, baseConfig+`
thresholds:
  http_req_duration: ["p(95)<500", "avg<200"]
`)

	out, err := execute(context.Background(), "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "executor: constant-vus")
	assert.Contains(t, out, "Keeps a fixed number of VUs")
	assert.Contains(t, out, "thresholds: 2")
}

func TestValidate_StagesOverride(t *testing.T) {
	path := writeConfig(t, baseConfig)

	out, err := execute(context.Background(), "validate", path, "--stages", "10s:5,20s:0")
	require.NoError(t, err)
	assert.Contains(t, out, "executor: ramping-vus")
	assert.Contains(t, out, "Moves the VU count linearly")
	assert.Contains(t, out, "duration: 30s")
}

func TestValidate_Invalid(t *testing.T) {
	path := writeConfig(t, `
workload: requests
stages:
  - duration: 10s
    target: -1
thresholds:
  http_req_duration: ["p95 < 500"]
`)

	_, err := execute(context.Background(), "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, CodeOf(err))
	assert.Contains(t, err.Error(), "stages[0].target")
	assert.Contains(t, err.Error(), "thresholds")
}

func TestWorkloadsCmd(t *testing.T) {
	out, err := execute(context.Background(), "workloads")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "complex-order"))
	assert.True(t, strings.HasPrefix(lines[1], "requests"))
}

func TestMetricsHandler(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	require.NoError(t, reg.Add(metrics.HTTPReqs, 3))

	rec := httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stampede_counter_total{metric="http_reqs"} 3`)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		report engine.RunReport
		want   int
	}{
		{engine.RunReport{Status: engine.StatusPassed}, ExitOK},
		{engine.RunReport{Status: engine.StatusThresholdsFailed}, ExitThresholdsFailed},
		{engine.RunReport{Status: engine.StatusAborted, AbortCause: engine.AbortThreshold}, ExitThresholdsFailed},
		{engine.RunReport{Status: engine.StatusAborted, AbortCause: engine.AbortOperator}, ExitInterrupted},
		{engine.RunReport{Status: engine.StatusAborted, AbortCause: engine.AbortFatal}, ExitAborted},
		{engine.RunReport{Status: engine.StatusAborted, AbortCause: engine.AbortInfra}, ExitAborted},
	}
	for _, tt := range tests {
		report := tt.report
		assert.Equal(t, tt.want, ExitCode(&report), "%s/%s", report.Status, report.AbortCause)
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ExitOK, CodeOf(nil))
	assert.Equal(t, ExitFailure, CodeOf(errors.New("boom")))
	assert.Equal(t, ExitInvalidConfig, CodeOf(&ExitError{Code: ExitInvalidConfig}))

	wrapped := exitErrorf(ExitAborted, "run: %w", errors.New("fatal"))
	assert.Equal(t, ExitAborted, CodeOf(wrapped))
	assert.Equal(t, "run: fatal", wrapped.Error())
}
