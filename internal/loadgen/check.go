package loadgen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// PredicateKind tags the condition a Predicate evaluates.
type PredicateKind int

const (
	PredicateStatusEquals PredicateKind = iota + 1
	PredicateStatusInRange
	PredicateBodyContains
	PredicateJSONPathEquals
	PredicateJSONSchema
	PredicateNoError
	PredicateCustom
)

// Predicate is an expected outcome of a sub-request. Build one with the
// constructors below; the zero value never passes.
type Predicate struct {
	kind   PredicateKind
	status int
	lo, hi int
	text   string
	path   string
	schema *jsonschema.Schema
	fn     func(*Response) bool
	desc   string
}

// StatusEquals passes when the response status equals code.
func StatusEquals(code int) Predicate {
	return Predicate{kind: PredicateStatusEquals, status: code}
}

// StatusInRange passes when lo <= status <= hi.
func StatusInRange(lo, hi int) Predicate {
	return Predicate{kind: PredicateStatusInRange, lo: lo, hi: hi}
}

// BodyContains passes when the body contains text.
func BodyContains(text string) Predicate {
	return Predicate{kind: PredicateBodyContains, text: text}
}

// JSONPathEquals passes when the value at path, rendered as a string,
// equals want.
func JSONPathEquals(path, want string) Predicate {
	return Predicate{kind: PredicateJSONPathEquals, path: path, text: want}
}

// JSONSchema passes when the body validates against schema.
func JSONSchema(schema *jsonschema.Schema) Predicate {
	return Predicate{kind: PredicateJSONSchema, schema: schema}
}

// NoError passes when the request completed at the transport level.
func NoError() Predicate {
	return Predicate{kind: PredicateNoError}
}

// Custom wraps an arbitrary condition. desc is used in failure reports.
func Custom(desc string, fn func(*Response) bool) Predicate {
	return Predicate{kind: PredicateCustom, fn: fn, desc: desc}
}

// Kind returns the predicate's tag.
func (p Predicate) Kind() PredicateKind {
	return p.kind
}

// String describes the predicate.
func (p Predicate) String() string {
	switch p.kind {
	case PredicateStatusEquals:
		return fmt.Sprintf("status == %d", p.status)
	case PredicateStatusInRange:
		return fmt.Sprintf("status in [%d, %d]", p.lo, p.hi)
	case PredicateBodyContains:
		return fmt.Sprintf("body contains %q", p.text)
	case PredicateJSONPathEquals:
		return fmt.Sprintf("%s == %q", p.path, p.text)
	case PredicateJSONSchema:
		return "body matches schema"
	case PredicateNoError:
		return "no transport error"
	case PredicateCustom:
		return p.desc
	default:
		return "invalid predicate"
	}
}

// Eval evaluates the predicate. When it fails, reason says why.
func (p Predicate) Eval(resp *Response) (ok bool, reason string) {
	if resp == nil {
		return false, "no response"
	}

	switch p.kind {
	case PredicateStatusEquals:
		if resp.Status == p.status {
			return true, ""
		}
		return false, fmt.Sprintf("status %d, want %d", resp.Status, p.status)

	case PredicateStatusInRange:
		if resp.Status >= p.lo && resp.Status <= p.hi {
			return true, ""
		}
		return false, fmt.Sprintf("status %d outside [%d, %d]", resp.Status, p.lo, p.hi)

	case PredicateBodyContains:
		if bytes.Contains(resp.Body, []byte(p.text)) {
			return true, ""
		}
		return false, fmt.Sprintf("body does not contain %q", p.text)

	case PredicateJSONPathEquals:
		got, err := jsonpath.Extract(resp.Body, p.path)
		if err != nil {
			return false, err.Error()
		}
		if got == p.text {
			return true, ""
		}
		return false, fmt.Sprintf("%s = %q, want %q", p.path, got, p.text)

	case PredicateJSONSchema:
		if p.schema == nil {
			return false, "no schema"
		}
		if err := p.schema.Validate(resp.Body); err != nil {
			return false, err.Error()
		}
		return true, ""

	case PredicateNoError:
		if resp.Err == nil {
			return true, ""
		}
		return false, resp.Err.Error()

	case PredicateCustom:
		if p.fn != nil && p.fn(resp) {
			return true, ""
		}
		return false, p.desc + " not satisfied"
	}

	return false, "invalid predicate"
}

// Check is a named predicate. Every evaluation is recorded into the checks
// rate metric and into a per-name sub-metric of it, see CheckMetric.
type Check struct {
	Name      string
	Predicate Predicate
}

// CheckResult is the tally of one named check over a run.
type CheckResult struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

var checkPrefix = metrics.Checks + "{check:"

// CheckMetric names the rate sub-metric that records the check called name.
func CheckMetric(name string) string {
	return SubMetric(metrics.Checks, "check", name)
}

// CheckResults extracts the per-check tallies from a snapshot, sorted by
// check name.
func CheckResults(snap *metrics.Snapshot) []CheckResult {
	if snap == nil {
		return nil
	}
	var out []CheckResult
	for _, name := range snap.Names() {
		if !strings.HasPrefix(name, checkPrefix) || !strings.HasSuffix(name, "}") {
			continue
		}
		st, _ := snap.Get(name)
		out = append(out, CheckResult{
			Name:   name[len(checkPrefix) : len(name)-1],
			Passes: st.Passes,
			Fails:  st.Fails,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
