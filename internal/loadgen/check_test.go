package loadgen_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

func TestPredicate_Eval(t *testing.T) {
	schema := jsonschema.MustCompile(`{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "string"}}
	}`)

	ok := &loadgen.Response{Status: 200, Body: []byte(`{"id":"o-1","total":{"amount":12.5}}`)}
	notFound := &loadgen.Response{Status: 404, Body: []byte(`not found`)}
	broken := &loadgen.Response{Err: errors.New("connection refused")}

	tests := []struct {
		name string
		pred loadgen.Predicate
		resp *loadgen.Response
		want bool
	}{
		{"status equals", loadgen.StatusEquals(200), ok, true},
		{"status differs", loadgen.StatusEquals(200), notFound, false},
		{"status in range", loadgen.StatusInRange(200, 299), ok, true},
		{"status out of range", loadgen.StatusInRange(200, 299), notFound, false},
		{"body contains", loadgen.BodyContains("o-1"), ok, true},
		{"body missing text", loadgen.BodyContains("o-2"), ok, false},
		{"json path equals", loadgen.JSONPathEquals("$.total.amount", "12.5"), ok, true},
		{"json path differs", loadgen.JSONPathEquals("$.id", "o-2"), ok, false},
		{"json path missing", loadgen.JSONPathEquals("$.nope", "x"), ok, false},
		{"schema valid", loadgen.JSONSchema(schema), ok, true},
		{"schema invalid", loadgen.JSONSchema(schema), notFound, false},
		{"no error", loadgen.NoError(), ok, true},
		{"transport error", loadgen.NoError(), broken, false},
		{"custom", loadgen.Custom("has body", func(r *loadgen.Response) bool { return len(r.Body) > 0 }), ok, true},
		{"custom fails", loadgen.Custom("has body", func(r *loadgen.Response) bool { return len(r.Body) > 0 }), broken, false},
		{"zero predicate", loadgen.Predicate{}, ok, false},
		{"nil response", loadgen.StatusEquals(200), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.pred.Eval(tt.resp)
			assert.Equal(t, tt.want, got)
			if got {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestPredicate_String(t *testing.T) {
	assert.Equal(t, "status == 200", loadgen.StatusEquals(200).String())
	assert.Equal(t, "status in [200, 399]", loadgen.StatusInRange(200, 399).String())
	assert.Equal(t, `body contains "ok"`, loadgen.BodyContains("ok").String())
	assert.Equal(t, "no transport error", loadgen.NoError().String())
	assert.Equal(t, "invalid predicate", loadgen.Predicate{}.String())
}

func TestCheckResults(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())
	require.NoError(t, reg.AddRate(loadgen.CheckMetric("b {nested}"), true))
	require.NoError(t, reg.AddRate(loadgen.CheckMetric("b {nested}"), false))
	require.NoError(t, reg.AddRate(loadgen.CheckMetric("a"), true))
	require.NoError(t, reg.AddRate(metrics.Checks, true))
	require.NoError(t, reg.AddTrend(loadgen.SubMetric(metrics.HTTPReqDuration, "name", "x"), 1))

	results := loadgen.CheckResults(reg.Snapshot())
	assert.Equal(t, []loadgen.CheckResult{
		{Name: "a", Passes: 1},
		{Name: "b {nested}", Passes: 1, Fails: 1},
	}, results)
	assert.Nil(t, loadgen.CheckResults(nil))
}
