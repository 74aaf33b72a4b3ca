// Package metrics registers the Prometheus collectors the core exposes:
// pipeline stage counters, webhook delivery counters, and background-job
// gauges. Collectors are package-level so every call site records against
// the same registry without threading a collector reference through the
// whole call graph, matching the teacher's pkg/metrics convention.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContributionsTotal counts add_knowledge outcomes by final status.
	ContributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_contributions_total",
		Help: "Total contributions processed by the ingestion orchestrator, labeled by outcome status.",
	}, []string{"status"})

	// OrchestratorStageDuration times each §4.15 pipeline step.
	OrchestratorStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hivemind_orchestrator_stage_duration_seconds",
		Help:    "Duration of each ingestion orchestrator stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// DedupActionsTotal counts dedup pipeline verdicts.
	DedupActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_dedup_actions_total",
		Help: "Dedup pipeline verdicts, labeled by action.",
	}, []string{"action"})

	// ConflictActionsTotal counts conflict resolver outcomes.
	ConflictActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_conflict_actions_total",
		Help: "Conflict resolver outcomes, labeled by action.",
	}, []string{"action"})

	// SearchDuration times the single-statement hybrid retrieval call.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hivemind_search_duration_seconds",
		Help:    "Duration of the hybrid retrieval SQL call.",
		Buckets: prometheus.DefBuckets,
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_webhook_deliveries_total",
		Help: "Webhook delivery attempts, labeled by result (delivered, retried, dropped).",
	}, []string{"result"})

	// QualityAggregationRunsTotal counts signal aggregator runs.
	QualityAggregationRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_quality_aggregation_runs_total",
		Help: "Total signal aggregator runs completed.",
	})

	// QualityAggregationItemsUpdated is a gauge of items updated in the
	// most recent aggregation run.
	QualityAggregationItemsUpdated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivemind_quality_aggregation_items_updated",
		Help: "Knowledge items whose quality_score changed in the most recent aggregation run.",
	})

	// DistillationRunsTotal counts distillation job runs, labeled by
	// whether they short-circuited.
	DistillationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_distillation_runs_total",
		Help: "Distillation job runs, labeled by outcome (executed, short_circuited).",
	}, []string{"outcome"})

	// DistillationMergesTotal counts items superseded by a duplicate
	// merge pass.
	DistillationMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_distillation_merges_total",
		Help: "Knowledge items superseded by the distillation duplicate-merge pass.",
	})

	// SSESubscribersActive tracks live SSE connections.
	SSESubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivemind_sse_subscribers_active",
		Help: "Currently connected SSE subscribers.",
	})
)

// ObserveStage records stage's duration since started.
func ObserveStage(stage string, started time.Time) {
	OrchestratorStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
