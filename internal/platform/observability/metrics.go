package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rate-Limit Governor.
	GovernorRequestsAllowed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_governor_requests_allowed_total",
		Help: "Requests the rate-limit governor released to the fetcher",
	}, []string{"domain"})

	GovernorBackoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_governor_backoffs_total",
		Help: "Times a domain's delay was increased in response to a 429 or a transport error",
	}, []string{"domain", "reason"})

	GovernorCurrentDelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acquired_governor_current_delay_ms",
		Help: "Current inter-request delay applied to a domain",
	}, []string{"domain"})

	// HTTP Fetcher.
	FetchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acquired_fetch_request_duration_seconds",
		Help:    "Duration of outbound fetch attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"domain", "outcome"})

	FetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_fetch_requests_total",
		Help: "Total outbound fetch attempts",
	}, []string{"domain", "outcome"})

	// Content Store.
	ContentStoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_content_store_writes_total",
		Help: "Blobs written to the content store",
	}, []string{"deduplicated"})

	ContentStoreBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acquired_content_store_bytes_written_total",
		Help: "Total bytes written to the content store (excludes deduplicated writes)",
	})

	// Crawl Engine.
	CrawlQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acquired_crawl_queue_depth",
		Help: "Pending crawl_urls rows by status",
	}, []string{"status"})

	CrawlClaimsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acquired_crawl_claims_reclaimed_total",
		Help: "Stale claims reclaimed by the sweep",
	})

	DocumentVersionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_document_versions_created_total",
		Help: "New DocumentVersion rows created",
	}, []string{"source"})

	// Analysis Pipeline.
	AnalysisRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acquired_analysis_request_duration_seconds",
		Help:    "Duration of an analysis backend invocation",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "analysis_type"})

	AnalysisResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_analysis_results_total",
		Help: "Completed AnalysisResult rows by status",
	}, []string{"backend", "analysis_type", "status"})

	AnalysisBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acquired_analysis_backlog_size",
		Help: "Pages awaiting analysis",
	})

	// Annotator.
	AnnotationRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acquired_annotation_request_duration_seconds",
		Help:    "Duration of an LLM annotation call",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "annotation_type"})

	AnnotationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_annotation_requests_total",
		Help: "Annotation requests by provider and outcome",
	}, []string{"provider", "annotation_type", "outcome"})

	AnnotationProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_annotation_provider_fallbacks_total",
		Help: "Times a lower-priority provider was used after a higher-priority one failed",
	}, []string{"annotation_type"})

	AnnotationCircuitBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acquired_annotation_circuit_breaker_open",
		Help: "1 if the provider's circuit breaker is currently open",
	}, []string{"provider"})

	// Worker Coordinator.
	WorkerHeartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquired_worker_heartbeats_total",
		Help: "Heartbeats written by a worker service type",
	}, []string{"service_type"})

	WorkerIterationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acquired_worker_iteration_duration_seconds",
		Help:    "Duration of a single worker loop iteration",
		Buckets: prometheus.DefBuckets,
	}, []string{"service_type"})
)
