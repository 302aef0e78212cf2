package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/loadgen/engine"
	"github.com/wesleyorama2/stampede/internal/loadgen/metrics"
	"github.com/wesleyorama2/stampede/internal/loadgen/threshold"
)

const metricNameWidth = 28

// PrintSummary prints the end-of-run summary. In quiet mode only the status
// line is printed.
func (c *Console) PrintSummary(report *engine.RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLiveLocked()

	if c.quiet {
		c.writeln(c.statusLine(report))
		return
	}

	p := c.palette
	line := strings.Repeat(boxHorizontal, 56)

	name := report.Name
	if name == "" {
		name = c.name
	}

	c.writeln("")
	c.writeln(p.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(name), c.statusLine(report)))
	c.writeln(p.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", p.Dim.Sprint(report.RunID)))
	if report.Workload != "" {
		c.writeln(fmt.Sprintf("Workload:      %s", report.Workload))
	}
	c.writeln(fmt.Sprintf("Duration:      %s", p.Value.Sprint(formatDuration(report.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s (fatal %s, interrupted %s)",
		p.Value.Sprint(formatNumber(report.Iterations)),
		formatNumber(report.FatalIterations),
		formatNumber(report.InterruptedIterations)))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", p.Value.Sprint(report.PeakVUs)))
	if report.DroppedObservations > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s observations recorded after the run ended",
			p.Warn.Sprint(formatNumber(report.DroppedObservations))))
	}
	if report.TeardownError != "" {
		c.writeln(fmt.Sprintf("Teardown:      %s", p.Bad.Sprint(report.TeardownError)))
	}
	c.writeln("")

	if report.Metrics != nil {
		c.writeln(p.Title.Sprint("Metrics:"))
		for _, metricName := range report.Metrics.Names() {
			st, _ := report.Metrics.Get(metricName)
			if st.Count == 0 && st.Kind != metrics.KindGauge {
				continue
			}
			c.writeln("  " + dottedName(metricName) + ": " + c.formatStats(st, report))
		}
		c.writeln("")
	}

	if len(report.Checks) > 0 {
		c.writeln(p.Title.Sprint("Checks:"))
		for _, chk := range report.Checks {
			mark := p.Good.Sprint("✓")
			if chk.Fails > 0 {
				mark = p.Bad.Sprint("✗")
			}
			total := chk.Passes + chk.Fails
			c.writeln(fmt.Sprintf("  %s %s %s", mark, chk.Name,
				p.Dim.Sprintf("(%s / %s passed)", formatNumber(chk.Passes), formatNumber(total))))
		}
		c.writeln("")
	}

	if len(report.Thresholds.Outcomes) > 0 {
		c.writeln(p.Title.Sprint("Thresholds:"))
		for _, o := range report.Thresholds.Outcomes {
			c.writeln("  " + c.formatOutcome(o))
		}
		c.writeln("")
	}
}

func (c *Console) statusLine(report *engine.RunReport) string {
	p := c.palette
	switch report.Status {
	case engine.StatusPassed:
		return p.Good.Sprint("PASSED ✓")
	case engine.StatusThresholdsFailed:
		return p.Bad.Sprintf("THRESHOLDS FAILED ✗ (%d)", len(report.Failed()))
	default:
		msg := fmt.Sprintf("ABORTED ✗ (%s)", report.AbortCause)
		if report.AbortReason != "" {
			msg += ": " + report.AbortReason
		}
		return p.Bad.Sprint(msg)
	}
}

func (c *Console) formatStats(st metrics.Stats, report *engine.RunReport) string {
	p := c.palette
	elapsed := report.Duration
	if report.Metrics != nil && report.Metrics.Elapsed > 0 {
		elapsed = report.Metrics.Elapsed
	}

	switch st.Kind {
	case metrics.KindCounter:
		return fmt.Sprintf("%s %s",
			p.Value.Sprint(formatFloat(st.Sum)),
			p.Dim.Sprintf("%s/s", formatFloat(st.PerSecond(elapsed))))
	case metrics.KindRate:
		return fmt.Sprintf("%s %s %s",
			p.Value.Sprintf("%.2f%%", st.Rate*100),
			p.Good.Sprintf("✓ %s", formatNumber(st.Passes)),
			p.Bad.Sprintf("✗ %s", formatNumber(st.Fails)))
	case metrics.KindGauge:
		return fmt.Sprintf("value=%s min=%s max=%s",
			p.Value.Sprint(formatFloat(st.Value)), formatFloat(st.Min), formatFloat(st.Max))
	case metrics.KindTrend:
		parts := make([]string, 0, len(report.SummaryTrendStats))
		for _, stat := range report.SummaryTrendStats {
			v, ok := trendStat(st, stat)
			if !ok {
				continue
			}
			if stat == "count" {
				parts = append(parts, fmt.Sprintf("%s=%s", stat, p.Value.Sprint(formatNumber(st.Count))))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", stat, p.Value.Sprint(formatMillis(v))))
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// trendStat resolves a summary trend stat name against trend statistics.
func trendStat(st metrics.Stats, stat string) (float64, bool) {
	switch stat {
	case "avg":
		return st.Avg, true
	case "min":
		return st.Min, true
	case "med":
		return st.Med, true
	case "max":
		return st.Max, true
	case "count":
		return float64(st.Count), true
	}
	if strings.HasPrefix(stat, "p(") && strings.HasSuffix(stat, ")") {
		pct, err := strconv.ParseFloat(stat[2:len(stat)-1], 64)
		if err != nil {
			return 0, false
		}
		return st.Percentile(pct)
	}
	return 0, false
}

func (c *Console) formatOutcome(o threshold.Outcome) string {
	p := c.palette
	switch o.Status {
	case threshold.StatusPassed:
		return fmt.Sprintf("%s %s %s %s", p.Good.Sprint("✓"), o.Threshold.Metric, o.Threshold.Source,
			p.Dim.Sprintf("(actual: %s)", formatFloat(o.Actual)))
	case threshold.StatusSkipped:
		return fmt.Sprintf("%s %s %s %s", p.Warn.Sprint("-"), o.Threshold.Metric, o.Threshold.Source,
			p.Warn.Sprint("(skipped: no samples)"))
	default:
		detail := fmt.Sprintf("(actual: %s)", formatFloat(o.Actual))
		if o.Samples == 0 {
			detail = "(no samples)"
		}
		return fmt.Sprintf("%s %s %s %s", p.Bad.Sprint("✗"), o.Threshold.Metric, o.Threshold.Source,
			p.Bad.Sprint(detail))
	}
}

func dottedName(name string) string {
	if len(name) >= metricNameWidth {
		return name
	}
	return name + strings.Repeat(".", metricNameWidth-len(name))
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return formatNumber(int64(v))
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
