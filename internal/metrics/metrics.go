// Package metrics defines the Prometheus instrumentation shared by the
// HTTP surface and the async scoring worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts raw events accepted by the ingest surface.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_ingested_total",
		Help:      "Raw events accepted for scoring.",
	})

	// EventsScored counts events that completed the scoring pipeline.
	EventsScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_scored_total",
		Help:      "Events scored by the pipeline.",
	})

	// EventsSkipped counts malformed events dropped under SkipRecord.
	EventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_skipped_total",
		Help:      "Malformed events skipped during scoring.",
	})

	// AlertsPublished counts high-severity insights published to the
	// alert topic.
	AlertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "alerts_published_total",
		Help:      "High-severity alerts published.",
	})

	// ScoreBatchDuration observes end-to-end batch scoring latency.
	ScoreBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "score_batch_duration_seconds",
		Help:      "Batch scoring latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// InsightSeverity tracks the severity distribution of scored events.
	InsightSeverity = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "insights_by_severity_total",
		Help:      "Scored insights by severity bucket.",
	}, []string{"severity"})

	// HTTPRequests counts API requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, path, and status.",
	}, []string{"method", "path", "status"})
)
