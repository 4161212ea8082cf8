// Package metrics provides Prometheus metrics for the matchd AI service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus collectors for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Event pipeline
	eventsConsumed *prometheus.CounterVec
	eventsAcked    *prometheus.CounterVec
	eventsNacked   *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventLatency   prometheus.Histogram

	// Embedding/LLM provider
	providerCalls   prometheus.Counter
	providerErrors  prometheus.Counter
	providerRetries prometheus.Counter
	providerLatency prometheus.Histogram

	// Cache
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// Semantic index
	indexSize         prometheus.Gauge
	indexUpserts      prometheus.Counter
	indexDeletes      prometheus.Counter
	indexQueryLatency prometheus.Histogram

	// Scoring and matching
	scoresComputed  prometheus.Counter
	matchesComputed prometheus.Counter
	coalescedCalls  prometheus.Counter

	// Leaderboard and chat
	leaderboardSize prometheus.Gauge
	chatTurns       prometheus.Counter

	// Outbound publisher
	publishConfirmed prometheus.Counter
	publishFailed    prometheus.Counter

	// Dispatcher workers
	workerCount prometheus.Gauge

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry so the default Go runtime collectors stay out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers all collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "matchd",
		subsystem:        "ai",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsConsumed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_consumed_total",
		Help:      "Inbound domain events received from the broker",
	}, []string{"event_type"})

	m.eventsAcked = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_acked_total",
		Help:      "Events acknowledged after the full workflow succeeded",
	}, []string{"event_type"})

	m.eventsNacked = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_nacked_total",
		Help:      "Events negatively acknowledged for redelivery",
	}, []string{"event_type"})

	m.eventsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_rejected_total",
		Help:      "Malformed events permanently rejected at validation",
	}, []string{"event_type"})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Redelivered events short-circuited by the dedupe registry",
	})

	m.eventLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_processing_latency_milliseconds",
		Help:      "End-to-end per-event workflow latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.providerCalls = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "provider_calls_total",
		Help:      "Embedding provider invocations (post-coalescing)",
	})

	m.providerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "provider_errors_total",
		Help:      "Embedding provider failures after retries were exhausted",
	})

	m.providerRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "provider_retries_total",
		Help:      "Transient provider failures that triggered a retry",
	})

	m.providerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "provider_latency_milliseconds",
		Help:      "Embedding provider call latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Cache reads that returned a live entry",
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Cache reads that missed or hit an expired entry",
	})

	m.indexSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_entries",
		Help:      "Current number of freelancer entries in the semantic index",
	})

	m.indexUpserts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_upserts_total",
		Help:      "Upsert operations applied to the semantic index",
	})

	m.indexDeletes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_deletes_total",
		Help:      "Delete operations applied to the semantic index",
	})

	m.indexQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_query_latency_milliseconds",
		Help:      "Similarity query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.scoresComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scores_computed_total",
		Help:      "Freelancer quality scores computed (cache misses only)",
	})

	m.matchesComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "matches_computed_total",
		Help:      "Job match results computed (cache misses only)",
	})

	m.coalescedCalls = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coalesced_calls_total",
		Help:      "Concurrent identical computations coalesced into one in-flight call",
	})

	m.leaderboardSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_entries",
		Help:      "Current number of freelancers on the score leaderboard",
	})

	m.chatTurns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "chat_turns_total",
		Help:      "Completed assistant chat turns",
	})

	m.publishConfirmed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_confirmed_total",
		Help:      "Outbound events confirmed by the broker",
	})

	m.publishFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_failed_total",
		Help:      "Outbound events the broker did not confirm",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatcher_workers",
		Help:      "Number of running dispatcher workers",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// Package-level helpers operating on the global manager.

func RecordEventConsumed(eventType string) { globalManager.eventsConsumed.WithLabelValues(eventType).Inc() }
func RecordEventAcked(eventType string)    { globalManager.eventsAcked.WithLabelValues(eventType).Inc() }
func RecordEventNacked(eventType string)   { globalManager.eventsNacked.WithLabelValues(eventType).Inc() }
func RecordEventRejected(eventType string) { globalManager.eventsRejected.WithLabelValues(eventType).Inc() }
func RecordEventDuplicate()                { globalManager.eventsDuplicate.Inc() }

// RecordEventLatency records end-to-end workflow latency in milliseconds.
func RecordEventLatency(latencyMs float64) { globalManager.eventLatency.Observe(latencyMs) }

func RecordProviderCall()  { globalManager.providerCalls.Inc() }
func RecordProviderError() { globalManager.providerErrors.Inc() }
func RecordProviderRetry() { globalManager.providerRetries.Inc() }

// RecordProviderLatency records provider call latency in milliseconds.
func RecordProviderLatency(latencyMs float64) { globalManager.providerLatency.Observe(latencyMs) }

func RecordCacheHit()  { globalManager.cacheHits.Inc() }
func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

func UpdateIndexSize(n int)  { globalManager.indexSize.Set(float64(n)) }
func RecordIndexUpsert()     { globalManager.indexUpserts.Inc() }
func RecordIndexDelete()     { globalManager.indexDeletes.Inc() }

// RecordIndexQueryLatency records similarity query latency in milliseconds.
func RecordIndexQueryLatency(latencyMs float64) { globalManager.indexQueryLatency.Observe(latencyMs) }

func RecordScoreComputed()  { globalManager.scoresComputed.Inc() }
func RecordMatchComputed()  { globalManager.matchesComputed.Inc() }
func RecordCoalescedCall()  { globalManager.coalescedCalls.Inc() }

func UpdateLeaderboardSize(n int) { globalManager.leaderboardSize.Set(float64(n)) }
func RecordChatTurn()             { globalManager.chatTurns.Inc() }

func RecordPublishConfirmed() { globalManager.publishConfirmed.Inc() }
func RecordPublishFailed()    { globalManager.publishFailed.Inc() }

func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records one HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry exposes the custom registry for the metrics HTTP handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
