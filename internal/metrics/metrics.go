package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn pipeline metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_turns_started_total",
			Help: "Total number of inquiry turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kediaman_turns_completed_total",
			Help: "Total number of inquiry turns completed",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kediaman_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Classifier metrics
	ClassificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_classification_failures_total",
			Help: "Queries that remained unparseable after retries",
		},
	)

	// Retrieval metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kediaman_retrieval_requests_total",
			Help: "Similarity search requests by outcome (hit/miss/error)",
		},
		[]string{"outcome"},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kediaman_retrieval_duration_seconds",
			Help:    "Similarity search latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// Web research metrics
	WebSearchesConducted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_web_searches_total",
			Help: "Turns escalated to web research",
		},
	)

	WebSourceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_web_source_failures_total",
			Help: "Individual web sources that failed during research",
		},
	)

	// Conversation store metrics
	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_threads_created_total",
			Help: "Total number of conversation threads created",
		},
	)

	ThreadCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kediaman_thread_cache_size",
			Help: "Number of threads held in the local cache",
		},
	)

	ThreadCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_thread_cache_hits_total",
			Help: "Thread lookups served from the local cache",
		},
	)

	ThreadCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_thread_cache_misses_total",
			Help: "Thread lookups that fell through to Redis",
		},
	)

	ThreadCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kediaman_thread_cache_evictions_total",
			Help: "Threads evicted from the local cache (oldest-idle first)",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kediaman_embedding_requests_total",
			Help: "Embedding requests by outcome (ok/error/lru_hit)",
		},
		[]string{"outcome"},
	)

	// Turn archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kediaman_archive_writes_total",
			Help: "Durable turn archive writes by status",
		},
		[]string{"status"},
	)
)
