package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DaveCybr/couple-guard/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the Lookout service
type Metrics struct {
	// Ingest pipeline metrics
	LocationSamples      *prometheus.CounterVec
	NotificationsMirrors *prometheus.CounterVec
	AlertsTriggered      *prometheus.CounterVec
	AlertsSuppressed     *prometheus.CounterVec
	IngestDuration       *prometheus.HistogramVec

	// Query metrics
	TrackingQueries *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
}

// New registers the service metric vectors on the shared collector
func New(collector *monitoring.MetricsCollector) *Metrics {
	kafkaMessages, kafkaDuration := collector.CreateKafkaMetrics()

	return &Metrics{
		LocationSamples: collector.NewCounter(
			"location_samples_total",
			"Location samples ingested",
			[]string{"result"},
		),
		NotificationsMirrors: collector.NewCounter(
			"notifications_mirrored_total",
			"Mirrored notifications ingested",
			[]string{"result", "filtered"},
		),
		AlertsTriggered: collector.NewCounter(
			"alerts_triggered_total",
			"Alerts committed by the rule engine",
			[]string{"kind", "severity"},
		),
		AlertsSuppressed: collector.NewCounter(
			"alerts_suppressed_total",
			"Alerts suppressed by the dedup window",
			[]string{"kind"},
		),
		IngestDuration: collector.NewHistogram(
			"ingest_duration_seconds",
			"Ingest request processing time",
			[]string{"kind"},
			prometheus.DefBuckets,
		),
		TrackingQueries: collector.NewCounter(
			"tracking_queries_total",
			"Viewer tracking and history queries",
			[]string{"query", "result"},
		),
		QueryDuration: collector.NewHistogram(
			"query_duration_seconds",
			"Viewer query processing time",
			[]string{"query"},
			prometheus.DefBuckets,
		),
		KafkaMessages: kafkaMessages,
		KafkaDuration: kafkaDuration,
	}
}
