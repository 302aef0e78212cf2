package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const prometheusNamespace = "stampede"

// summaryQuantiles are the quantiles exported for every trend.
var summaryQuantiles = []float64{50, 90, 95, 99}

var (
	counterDesc = prometheus.NewDesc(
		prometheusNamespace+"_counter_total",
		"Sum of values recorded into a counter metric.",
		[]string{"metric"}, nil,
	)
	rateDesc = prometheus.NewDesc(
		prometheusNamespace+"_rate_ratio",
		"Fraction of non-zero samples recorded into a rate metric.",
		[]string{"metric"}, nil,
	)
	rateSamplesDesc = prometheus.NewDesc(
		prometheusNamespace+"_rate_samples_total",
		"Number of samples recorded into a rate metric.",
		[]string{"metric"}, nil,
	)
	trendDesc = prometheus.NewDesc(
		prometheusNamespace+"_trend",
		"Distribution of values recorded into a trend metric.",
		[]string{"metric"}, nil,
	)
	gaugeDesc = prometheus.NewDesc(
		prometheusNamespace+"_gauge",
		"Last value recorded into a gauge metric.",
		[]string{"metric"}, nil,
	)
	droppedDesc = prometheus.NewDesc(
		prometheusNamespace+"_dropped_observations_total",
		"Observations dropped because they arrived after the run finished.",
		nil, nil,
	)
)

// PrometheusCollector exposes a Registry as a prometheus.Collector.
// Every scrape takes a fresh snapshot.
type PrometheusCollector struct {
	registry *Registry
}

// NewPrometheusCollector creates a collector over the registry.
func NewPrometheusCollector(registry *Registry) *PrometheusCollector {
	return &PrometheusCollector{registry: registry}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- counterDesc
	ch <- rateDesc
	ch <- rateSamplesDesc
	ch <- trendDesc
	ch <- gaugeDesc
	ch <- droppedDesc
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot(summaryQuantiles...)

	for _, name := range snap.Names() {
		s := snap.Metrics[name]
		switch s.Kind {
		case KindCounter:
			ch <- prometheus.MustNewConstMetric(counterDesc, prometheus.CounterValue, s.Sum, name)
		case KindRate:
			ch <- prometheus.MustNewConstMetric(rateDesc, prometheus.GaugeValue, s.Rate, name)
			ch <- prometheus.MustNewConstMetric(rateSamplesDesc, prometheus.CounterValue, float64(s.Count), name)
		case KindTrend:
			quantiles := make(map[float64]float64, len(summaryQuantiles))
			for _, p := range summaryQuantiles {
				if v, ok := s.Percentile(p); ok {
					quantiles[p/100] = v
				}
			}
			ch <- prometheus.MustNewConstSummary(trendDesc, uint64(s.Count), s.Sum, quantiles, name)
		case KindGauge:
			ch <- prometheus.MustNewConstMetric(gaugeDesc, prometheus.GaugeValue, s.Value, name)
		}
	}

	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(c.registry.Dropped()))
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
