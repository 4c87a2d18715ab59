package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// fast responses
	5, 10, 25, 50, 75, 100, 150, 200, 300, 400, 500,
	// marketplace round trips
	750, 1000, 1500, 2000, 3000, 5000,
	// timeouts and one retry
	7500, 10000, 15000, 20000, 30000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "histogram_vec":
		return prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
			m.Args,
		)
	case "summary_vec":
		return prometheus.NewSummaryVec(
			prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	}
	return nil
}

// MetricsBusinessProcess tracks marketplace calls, refresh states and webhook outcomes.
// type is the component (marketplace, refresh, webhook, sync), subtype the operation or outcome.
var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

const (
	BusinessMarketplace = "marketplace"
	BusinessRefresh     = "refresh"
	BusinessWebhook     = "webhook"
	BusinessSync        = "sync"
)

// ObserveBusinessProcess records one business step. It is a no-op until the collector is registered.
func ObserveBusinessProcess(typ, subtype string, start time.Time) {
	hv, ok := MetricsBusinessProcess.MetricCollector.(*prometheus.HistogramVec)
	if !ok || hv == nil {
		return
	}
	hv.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

// MillisecondsSince returns the elapsed time since start in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

const (
	RefererKey = "X-Referer"
)
