package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_turns_started_total",
			Help: "Total number of conversation turns submitted",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_turns_completed_total",
			Help: "Total number of conversation turns finished, by terminal and outcome",
		},
		[]string{"terminal", "status"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_turn_duration_seconds",
			Help:    "End-to-end turn latency as seen by the gateway",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"terminal"},
	)

	TurnLockWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_turn_lock_waits_total",
			Help: "Outcome of waiting for the per-conversation turn lock",
		},
		[]string{"result"},
	)

	// Step metrics
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_step_duration_seconds",
			Help:    "Latency of individual pipeline steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_step_failures_total",
			Help: "Pipeline step failures by error kind",
		},
		[]string{"step", "kind"},
	)

	// Retrieval metrics
	RetrievalBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_retrieval_batch_size",
			Help:    "Number of records returned per retrieval call",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
		[]string{"backend", "mode"},
	)

	BackendDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_backend_degraded_total",
			Help: "Retrieval calls that failed and were replaced by an empty batch",
		},
		[]string{"backend"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_llm_requests_total",
			Help: "LLM requests by call type and status",
		},
		[]string{"call", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_llm_tokens_total",
			Help: "Tokens consumed by LLM calls",
		},
		[]string{"call", "type"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_embedding_requests_total",
			Help: "Embedding lookups by source",
		},
		[]string{"source"},
	)

	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "advisor_embedding_latency_seconds",
			Help:    "Latency of embedding provider calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Conversation store metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_conversations_created_total",
			Help: "Conversations persisted for the first time",
		},
	)

	ConversationCommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_conversation_commit_conflicts_total",
			Help: "Commits rejected because the stored version moved",
		},
	)

	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_conversation_cache_hits_total",
			Help: "Conversation reads served from the local copy while Redis was unreachable",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_conversation_cache_misses_total",
			Help: "Conversation reads that failed with no local copy to fall back on",
		},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisor_conversation_cache_size",
			Help: "Conversations held in the local cache",
		},
	)

	ConversationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_conversation_cache_evictions_total",
			Help: "Conversations evicted from the local cache",
		},
	)

	// HTTP metrics (gateway)
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_http_requests_total",
			Help: "Gateway HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
