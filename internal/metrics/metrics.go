// Package metrics exposes the Prometheus counters and gauges the
// ingestion controller and API surface update as they run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every exported series. It is safe for concurrent use, since
// every field is itself a concurrency-safe Prometheus collector.
type Metrics struct {
	LatestIngested    prometheus.Gauge
	PartitionsCached  prometheus.Gauge
	SyncErrors        prometheus.Counter
	PartitionsExpired prometheus.Counter
	BackfillInflight  prometheus.Gauge

	RequestsTotal *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// New registers and returns a fresh Metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LatestIngested: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stellar_events_latest_ingested",
			Help: "Highest ledger sequence known to be ingested.",
		}),
		PartitionsCached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stellar_events_partitions_cached",
			Help: "Number of ledger partitions currently held in the store.",
		}),
		SyncErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "stellar_events_sync_errors_total",
			Help: "Transient archive fetch errors encountered by the sync loop.",
		}),
		PartitionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "stellar_events_partitions_expired_total",
			Help: "Partitions removed by the TTL sweep.",
		}),
		BackfillInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stellar_events_backfill_inflight",
			Help: "On-demand backfill fetches currently in flight.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stellar_events_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stellar_events_query_duration_seconds",
			Help:    "Latency of event store query evaluation.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the Prometheus exposition endpoint for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
