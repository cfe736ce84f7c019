// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	ProductsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_products_evaluated_total",
			Help: "Total number of product candidates evaluated, by terminal stage",
		},
		[]string{"stage"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "underwriting_evaluation_duration_seconds",
			Help:    "Duration of a full multi-product evaluation run",
			Buckets: prometheus.DefBuckets,
		},
	)

	PremiumLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_premium_lookups_total",
			Help: "Premium matrix lookups by result (exact, interpolated, out_of_range, invalid)",
		},
		[]string{"result"},
	)

	RuleSetCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "underwriting_ruleset_cache_total",
			Help: "Rule set cache lookups by outcome (hit, miss, error)",
		},
		[]string{"outcome"},
	)
)
