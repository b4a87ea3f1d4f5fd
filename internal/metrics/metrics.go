// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Store outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation_failed"
	OutcomeConflict   = "conflict"
	OutcomeFailure    = "failure"
)

var (
	// Ingestion
	InstancesStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_instances_stored_total",
		Help: "The total number of store attempts by outcome",
	}, []string{"outcome"})

	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medstore_store_latency_seconds",
		Help:    "The latency of storing one instance",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	StaleTagRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_finalize_stale_tag_retries_total",
		Help: "The total number of finalize retries after the tag set changed",
	})

	// Compensation
	Compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_compensations_total",
		Help: "The total number of reservation rollbacks by result",
	}, []string{"result"})

	CleanupQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medstore_cleanup_queue_depth",
		Help: "The number of rollbacks waiting to run",
	})

	// Deleted instance cleanup
	CleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_cleanup_deleted_total",
		Help: "The total number of deleted instance versions removed from storage",
	})

	CleanupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_cleanup_errors_total",
		Help: "The total number of failed cleanup attempts",
	})

	CleanupExhausted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medstore_cleanup_exhausted",
		Help: "The number of deleted instance versions that ran out of retries",
	})

	ReservationsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_reservations_reaped_total",
		Help: "The total number of stale reservations moved to cleanup",
	})

	// Operations
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_operations_total",
		Help: "The total number of finished operations by kind and status",
	}, []string{"kind", "status"})

	OperationsRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medstore_operations_running",
		Help: "The number of operations currently running",
	}, []string{"kind"})

	ReindexedInstances = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_reindexed_instances_total",
		Help: "The total number of instances reindexed",
	})

	ReindexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medstore_reindex_errors_total",
		Help: "The total number of per-tag reindex failures",
	})

	// Change feed
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_change_events_published_total",
		Help: "The total number of change events published",
	}, []string{"type"})

	PublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_change_event_publish_errors_total",
		Help: "The total number of change event publish errors",
	}, []string{"type"})

	// Catalog
	CatalogRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medstore_catalog_refreshes_total",
		Help: "The total number of catalog reloads by result",
	}, []string{"result"})

	CatalogGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "medstore_catalog_generation",
		Help: "The generation of the current catalog snapshot",
	})

	// HTTP
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medstore_http_request_duration_seconds",
		Help:    "The latency of HTTP requests by route and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

func init() {
	prometheus.MustRegister(InstancesStored)
	prometheus.MustRegister(StoreLatency)
	prometheus.MustRegister(StaleTagRetries)
	prometheus.MustRegister(Compensations)
	prometheus.MustRegister(CleanupQueueDepth)
	prometheus.MustRegister(CleanupDeleted)
	prometheus.MustRegister(CleanupErrors)
	prometheus.MustRegister(CleanupExhausted)
	prometheus.MustRegister(ReservationsReaped)
	prometheus.MustRegister(Operations)
	prometheus.MustRegister(OperationsRunning)
	prometheus.MustRegister(ReindexedInstances)
	prometheus.MustRegister(ReindexErrors)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(CatalogRefreshes)
	prometheus.MustRegister(CatalogGeneration)
	prometheus.MustRegister(HTTPRequests)
}
