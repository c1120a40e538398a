// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionDecisionsTotal tracks identity resolution outcomes
	ResolutionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "decisions_total",
			Help:      "Total number of identity resolution decisions by type and rule",
		},
		[]string{"decision", "rule"},
	)

	// GateRejectionsTotal tracks identity gate rejections by predicate
	GateRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "gate_rejections_total",
			Help:      "Total number of contacts rejected by the identity gate",
		},
		[]string{"reason"},
	)

	// CandidateScores tracks the best candidate score per resolution
	CandidateScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "best_candidate_score",
			Help:      "Best candidate score observed per resolution",
			Buckets:   []float64{0.1, 0.2, 0.25, 0.35, 0.5, 0.65, 0.75, 0.9, 1},
		},
	)

	// PlaceResolutionsTotal tracks how places were resolved
	PlaceResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "places",
			Name:      "resolutions_total",
			Help:      "Total number of place resolutions by method",
		},
		[]string{"method"},
	)

	// CatResolutionsTotal tracks cat resolutions by path and outcome
	CatResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "cats",
			Name:      "resolutions_total",
			Help:      "Total number of cat resolutions by key path and outcome",
		},
		[]string{"path", "outcome"},
	)

	// LinksTotal tracks relationship upserts
	LinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "linking",
			Name:      "links_total",
			Help:      "Total number of relationship link attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// StageCoverage tracks the last coverage percentage per linking stage
	StageCoverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "linking",
			Name:      "stage_coverage_pct",
			Help:      "Coverage percentage recorded by the last linking run per stage",
		},
		[]string{"stage"},
	)

	// LinkingRunsTotal tracks orchestrator runs by final status
	LinkingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "linking",
			Name:      "runs_total",
			Help:      "Total number of entity linking runs by status",
		},
		[]string{"status"},
	)

	// LinkingRunDuration tracks orchestrator run duration
	LinkingRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "linking",
			Name:      "run_duration_seconds",
			Help:      "Duration of entity linking runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	// MergesTotal tracks merge and archive operations
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "operations_total",
			Help:      "Total number of merge operations by entity kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// PollutionFlagged tracks people flagged by the last pollution scan
	PollutionFlagged = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "pollution",
			Name:      "flagged_people",
			Help:      "Number of people flagged by the last pollution scan per flag",
		},
		[]string{"flag"},
	)

	// SchedulerJobsTotal tracks scheduled job ticks
	SchedulerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Total number of scheduled job ticks by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	// KafkaPublishTotal tracks Kafka event publishes
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_total",
			Help:      "Total number of Kafka publishes by event type and status",
		},
		[]string{"event_type", "status"},
	)
)

func RecordDecision(decision, rule string, bestScore float64) {
	ResolutionDecisionsTotal.WithLabelValues(decision, rule).Inc()
	CandidateScores.Observe(bestScore)
}

func RecordGateRejection(reason string) {
	GateRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordPlaceResolution(method string) {
	PlaceResolutionsTotal.WithLabelValues(method).Inc()
}

func RecordCatResolution(path, outcome string) {
	CatResolutionsTotal.WithLabelValues(path, outcome).Inc()
}

func RecordLink(kind, outcome string) {
	LinksTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordLinkingRun(status string, durationSeconds float64) {
	LinkingRunsTotal.WithLabelValues(status).Inc()
	LinkingRunDuration.Observe(durationSeconds)
}

func RecordStageCoverage(stage string, pct float64) {
	StageCoverage.WithLabelValues(stage).Set(pct)
}

func RecordMerge(kind, outcome string) {
	MergesTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordSchedulerJob(job, outcome string) {
	SchedulerJobsTotal.WithLabelValues(job, outcome).Inc()
}

func RecordKafkaPublish(eventType, status string) {
	KafkaPublishTotal.WithLabelValues(eventType, status).Inc()
}

// SetPollutionFlagged replaces the per-flag counts from the latest scan.
func SetPollutionFlagged(counts map[string]int) {
	PollutionFlagged.Reset()
	for flag, n := range counts {
		PollutionFlagged.WithLabelValues(flag).Set(float64(n))
	}
}
