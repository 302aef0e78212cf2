package workload

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/config"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// RequestsName is the name of the config-driven workload.
const RequestsName = "requests"

// Requests runs the configured request list in order on every iteration.
//
// URLs, headers and bodies may reference {{name}} placeholders, resolved
// from values extracted earlier by the same VU, then from configuration
// variables. {{baseUrl}} is the run's base URL. URLs starting with "/" are
// relative to the base URL.
type Requests struct {
	steps []step
}

type step struct {
	cfg      config.RequestConfig
	method   string
	checks   []loadgen.Check
	expected *loadgen.Predicate
}

// NewRequests compiles the request list of cfg.
func NewRequests(cfg *config.TestConfig) (*Requests, error) {
	if len(cfg.Requests) == 0 {
		return nil, fmt.Errorf("no requests configured")
	}

	w := &Requests{steps: make([]step, 0, len(cfg.Requests))}
	for i, rc := range cfg.Requests {
		s, err := compileStep(rc)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
		w.steps = append(w.steps, s)
	}
	return w, nil
}

func compileStep(rc config.RequestConfig) (step, error) {
	s := step{cfg: rc, method: strings.ToUpper(rc.Method)}
	if s.method == "" {
		s.method = http.MethodGet
	}
	if s.cfg.Name == "" {
		s.cfg.Name = s.method + " " + rc.URL
	}

	for _, cc := range rc.Checks {
		pred, err := compileCheck(cc)
		if err != nil {
			return step{}, err
		}
		name := cc.Name
		if name == "" {
			name = s.cfg.Name + ": " + pred.String()
		}
		s.checks = append(s.checks, loadgen.Check{Name: name, Predicate: pred})
	}

	switch len(rc.ExpectedStatus) {
	case 0:
	case 1:
		p := loadgen.StatusEquals(rc.ExpectedStatus[0])
		s.expected = &p
	default:
		codes := append([]int(nil), rc.ExpectedStatus...)
		p := loadgen.Custom(fmt.Sprintf("status in %v", codes), func(resp *loadgen.Response) bool {
			for _, c := range codes {
				if resp.Status == c {
					return true
				}
			}
			return false
		})
		s.expected = &p
	}
	return s, nil
}

func compileCheck(cc config.CheckConfig) (loadgen.Predicate, error) {
	switch cc.Type {
	case "status":
		code, err := strconv.Atoi(cc.Value)
		if err != nil {
			return loadgen.Predicate{}, fmt.Errorf("status check: invalid status %q", cc.Value)
		}
		return loadgen.StatusEquals(code), nil
	case "body":
		return loadgen.BodyContains(cc.Value), nil
	case "jsonpath":
		if cc.Value != "" {
			return loadgen.JSONPathEquals(cc.Path, cc.Value), nil
		}
		path := cc.Path
		return loadgen.Custom(path+" exists", func(resp *loadgen.Response) bool {
			_, err := jsonpath.Lookup(resp.Body, path)
			return err == nil
		}), nil
	case "schema":
		schema, err := jsonschema.Compile(cc.Schema)
		if err != nil {
			return loadgen.Predicate{}, fmt.Errorf("schema check: %w", err)
		}
		return loadgen.JSONSchema(schema), nil
	default:
		return loadgen.Predicate{}, fmt.Errorf("unknown check type %q", cc.Type)
	}
}

// Iterate issues every request in order. A transport error or a failed
// extraction ends the iteration as failed, and so does a failed check when
// the request sets failOnCheck.
func (w *Requests) Iterate(ctx context.Context, it *loadgen.Iteration) error {
	for _, s := range w.steps {
		spec := loadgen.RequestSpec{
			Method:   s.method,
			URL:      resolveURL(it, resolve(it, s.cfg.URL)),
			Timeout:  time.Duration(s.cfg.Timeout),
			Name:     s.cfg.Name,
			Expected: s.expected,
		}
		if s.cfg.Body != "" {
			spec.Body = []byte(resolve(it, s.cfg.Body))
		}
		if len(s.cfg.Headers) > 0 {
			spec.Headers = make(map[string]string, len(s.cfg.Headers))
			for k, v := range s.cfg.Headers {
				spec.Headers[k] = resolve(it, v)
			}
		}

		resp, err := it.Request(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return it.Fail("%s: %v", s.cfg.Name, err)
		}

		if ok := it.Check(resp, s.checks...); !ok && s.cfg.FailOnCheck {
			return it.Fail("%s: check failed", s.cfg.Name)
		}

		for _, ext := range s.cfg.Extract {
			value, err := extract(resp, ext)
			if err != nil {
				return it.Fail("%s: extract %s: %v", s.cfg.Name, ext.Name, err)
			}
			it.SetData(ext.Name, value)
		}

		if err := it.Sleep(ctx, time.Duration(s.cfg.ThinkTime)); err != nil {
			return err
		}
	}
	return nil
}

func extract(resp *loadgen.Response, ext config.ExtractConfig) (string, error) {
	switch ext.Source {
	case "body":
		return jsonpath.Extract(resp.Body, ext.Path)
	case "header":
		v := resp.Headers.Get(ext.Path)
		if v == "" {
			return "", fmt.Errorf("header %q not present", ext.Path)
		}
		return v, nil
	case "status":
		return strconv.Itoa(resp.Status), nil
	default:
		return "", fmt.Errorf("unknown source %q", ext.Source)
	}
}

// resolve substitutes {{name}} placeholders for the current VU.
func resolve(it *loadgen.Iteration, s string) string {
	names := config.Placeholders(s)
	if len(names) == 0 {
		return s
	}

	vars := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := it.GetData(name); ok {
			vars[name] = fmt.Sprint(v)
			continue
		}
		if name == "baseUrl" {
			vars[name] = it.BaseURL()
			continue
		}
		if v := it.Var(name); v != "" {
			vars[name] = v
		}
	}
	return config.ResolveVariables(s, vars)
}

func resolveURL(it *loadgen.Iteration, url string) string {
	if strings.HasPrefix(url, "/") {
		return strings.TrimSuffix(it.BaseURL(), "/") + url
	}
	return url
}
