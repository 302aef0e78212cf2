package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := Init(context.Background(), Config{})
	require.NoError(t, err)

	assert.False(t, p.ShouldPropagate())
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_PropagateOnly(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := Init(context.Background(), Config{Propagate: true})
	require.NoError(t, err)
	assert.True(t, p.ShouldPropagate())

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := StartRequestSpan(context.Background(), tp.Tracer("test"), http.MethodPost, "CreateComplexOrder-VIP", 1)
	headers := http.Header{}
	InjectHTTPHeaders(ctx, headers)
	span.End()

	assert.NotEmpty(t, headers.Get("traceparent"))
}

func TestInit_RejectsBadSampleRate(t *testing.T) {
	_, err := Init(context.Background(), Config{Endpoint: "localhost:4317", SampleRate: 2})
	assert.Error(t, err)
}

func TestInit_RejectsUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.Error(t, err)
}

func TestEndSpan_RecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, ok := StartRequestSpan(context.Background(), tp.Tracer("test"), http.MethodGet, "ok", 1)
	EndSpan(ok, 200, nil)

	_, failed := StartRequestSpan(context.Background(), tp.Tracer("test"), http.MethodGet, "", 2)
	EndSpan(failed, 0, errors.New("connection refused"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "HTTP GET ok", spans[0].Name())
	assert.Equal(t, "HTTP GET", spans[1].Name())
	assert.Equal(t, "connection refused", spans[1].Status().Description)
}
