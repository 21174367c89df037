package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Crawl metrics
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chubindex_repository_fetches_total",
			Help: "Total number of per-repository fetch cycles by outcome",
		},
		[]string{"outcome"},
	)

	PagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chubindex_feed_pages_fetched_total",
			Help: "Total number of identifier feed pages fetched",
		},
	)

	IdentifiersIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chubindex_identifiers_ingested_total",
			Help: "Total number of identifier rows submitted to the index store",
		},
	)

	IngestErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chubindex_ingest_row_errors_total",
			Help: "Total number of identifier rows dropped by validation",
		},
	)

	// Scheduler metrics
	SchedulerPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chubindex_scheduler_pending",
			Help: "Number of repositories currently scheduled",
		},
	)

	// Notification metrics
	NotificationsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chubindex_notifications_received_total",
			Help: "Total number of push notifications accepted into the queue",
		},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chubindex_notifications_dropped_total",
			Help: "Total number of push notifications dropped because the queue was full",
		},
	)

	// Query metrics
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chubindex_query_duration_seconds",
			Help:    "Triple store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chubindex_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(FetchesTotal)
	prometheus.MustRegister(PagesFetched)
	prometheus.MustRegister(IdentifiersIngested)
	prometheus.MustRegister(IngestErrors)
	prometheus.MustRegister(SchedulerPending)
	prometheus.MustRegister(NotificationsReceived)
	prometheus.MustRegister(NotificationsDropped)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
