package output

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
)

// htmlReport is the data behind the HTML report template.
type htmlReport struct {
	Report     *engine.RunReport
	Title      string
	Status     string
	StatusOK   bool
	Metrics    []htmlMetric
	Thresholds []htmlThreshold
}

type htmlMetric struct {
	Name  string
	Kind  string
	Stats string
}

type htmlThreshold struct {
	Mark   string
	Class  string
	Metric string
	Source string
	Detail string
}

// WriteHTML renders the run report as a standalone HTML page.
func WriteHTML(w io.Writer, report *engine.RunReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatTime":     func(t time.Time) string { return t.Format(time.RFC3339) },
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newHTMLReport(report)); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// WriteHTMLFile writes the HTML report to path.
func WriteHTMLFile(path string, report *engine.RunReport) error {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, report); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

func newHTMLReport(report *engine.RunReport) htmlReport {
	// A colorless console formats values exactly like the terminal summary.
	plain := &Console{palette: NewPalette(false)}

	data := htmlReport{
		Report:   report,
		Title:    report.Name,
		Status:   plain.statusLine(report),
		StatusOK: report.Status == engine.StatusPassed,
	}
	if data.Title == "" {
		data.Title = report.Workload
	}

	if report.Metrics != nil {
		for _, name := range report.Metrics.Names() {
			st, _ := report.Metrics.Get(name)
			if st.Count == 0 && st.Kind != metrics.KindGauge {
				continue
			}
			data.Metrics = append(data.Metrics, htmlMetric{
				Name:  name,
				Kind:  st.Kind.String(),
				Stats: plain.formatStats(st, report),
			})
		}
	}

	for _, o := range report.Thresholds.Outcomes {
		row := htmlThreshold{
			Metric: o.Threshold.Metric,
			Source: o.Threshold.Source,
			Detail: "actual: " + formatFloat(o.Actual),
		}
		switch o.Status {
		case threshold.StatusPassed:
			row.Mark, row.Class = "✓", "pass"
		case threshold.StatusSkipped:
			row.Mark, row.Class, row.Detail = "-", "skip", "skipped: no samples"
		default:
			row.Mark, row.Class = "✗", "fail"
			if o.Samples == 0 {
				row.Detail = "no samples"
			}
		}
		data.Thresholds = append(data.Thresholds, row)
	}
	return data
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - Load Test Report</title>
<style>
  :root { --fg: #1e293b; --muted: #64748b; --border: #e2e8f0; --pass: #16a34a; --fail: #dc2626; --skip: #d97706; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; color: var(--fg); background: #f8fafc; margin: 0; }
  .container { max-width: 1100px; margin: 0 auto; padding: 2rem; }
  .card { background: #fff; border-radius: 10px; padding: 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
  h1 { margin: 0 0 0.5rem 0; font-size: 1.6rem; }
  h2 { margin-top: 0; font-size: 1.15rem; }
  .status { font-weight: 700; }
  .status.ok { color: var(--pass); }
  .status.bad { color: var(--fail); }
  .meta { color: var(--muted); font-size: 0.9rem; }
  table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
  th, td { text-align: left; padding: 0.45rem 0.6rem; border-bottom: 1px solid var(--border); }
  th { color: var(--muted); font-weight: 600; }
  td.mono { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
  .pass { color: var(--pass); }
  .fail { color: var(--fail); }
  .skip { color: var(--skip); }
</style>
</head>
<body>
<div class="container">
  <div class="card">
    <h1>{{.Title}}</h1>
    <div class="status {{if .StatusOK}}ok{{else}}bad{{end}}">{{.Status}}</div>
    <p class="meta">
      Run {{.Report.RunID}} &middot; started {{formatTime .Report.StartTime}} &middot; {{formatDuration .Report.Duration}}
    </p>
    <table>
      <tr><th>Iterations</th><td>{{formatNumber .Report.Iterations}}</td></tr>
      <tr><th>Fatal iterations</th><td>{{formatNumber .Report.FatalIterations}}</td></tr>
      <tr><th>Interrupted iterations</th><td>{{formatNumber .Report.InterruptedIterations}}</td></tr>
      <tr><th>Peak VUs</th><td>{{.Report.PeakVUs}}</td></tr>
      {{- if .Report.DroppedObservations}}
      <tr><th>Dropped observations</th><td>{{formatNumber .Report.DroppedObservations}}</td></tr>
      {{- end}}
      {{- if .Report.TeardownError}}
      <tr><th>Teardown</th><td class="fail">{{.Report.TeardownError}}</td></tr>
      {{- end}}
    </table>
  </div>

  {{- if .Thresholds}}
  <div class="card">
    <h2>Thresholds</h2>
    <table>
      <tr><th></th><th>Metric</th><th>Condition</th><th>Result</th></tr>
      {{- range .Thresholds}}
      <tr class="{{.Class}}"><td>{{.Mark}}</td><td>{{.Metric}}</td><td class="mono">{{.Source}}</td><td>{{.Detail}}</td></tr>
      {{- end}}
    </table>
  </div>
  {{- end}}

  {{- if .Metrics}}
  <div class="card">
    <h2>Metrics</h2>
    <table>
      <tr><th>Metric</th><th>Type</th><th>Values</th></tr>
      {{- range .Metrics}}
      <tr><td>{{.Name}}</td><td>{{.Kind}}</td><td class="mono">{{.Stats}}</td></tr>
      {{- end}}
    </table>
  </div>
  {{- end}}

  {{- if .Report.Checks}}
  <div class="card">
    <h2>Checks</h2>
    <table>
      <tr><th>Check</th><th>Passes</th><th>Fails</th></tr>
      {{- range .Report.Checks}}
      <tr class="{{if .Fails}}fail{{else}}pass{{end}}"><td>{{.Name}}</td><td>{{formatNumber .Passes}}</td><td>{{formatNumber .Fails}}</td></tr>
      {{- end}}
    </table>
  </div>
  {{- end}}
</div>
</body>
</html>
`
