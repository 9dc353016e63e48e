package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentiment_bot"

// Classifier metrics
var (
	// ClassificationsTotal counts classified posts by produced algorithm and outcome
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Posts classified by algorithm and outcome",
		},
		[]string{"algorithm", "outcome"}, // "ok", "fallback", "error"
	)

	// FallbacksTotal counts classifier fallbacks by requested algorithm and reason
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallbacks_total",
			Help:      "Classifier fallbacks by requested algorithm and reason",
		},
		[]string{"requested", "reason"},
	)

	// ClassifierDuration tracks analyzer latency, retries included
	ClassifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "Duration of a single analyzer call in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		},
		[]string{"algorithm"},
	)

	// CompletionRequestsTotal counts calls made to the remote language model
	CompletionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Remote completion requests by provider and status",
		},
		[]string{"provider", "status"},
	)
)

// Pipeline metrics
var (
	// PostsCollectedTotal counts posts stored by the collector per topic
	PostsCollectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_collected_total",
			Help:      "Posts stored by the collector",
		},
		[]string{"topic"},
	)

	// AggregatesTotal counts aggregation runs by outcome
	AggregatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregates_total",
			Help:      "Aggregation runs by topic, algorithm and outcome",
		},
		[]string{"topic", "algorithm", "outcome"}, // "created", "empty", "error"
	)

	// PipelineRunDuration tracks how long daily runs take
	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"status"},
	)

	// LastSuccessfulRun records the unix time of the last completed run
	LastSuccessfulRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last completed pipeline run",
		},
	)
)
