package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_submissions_total",
			Help: "Total number of graded submissions",
		},
		[]string{"language", "outcome"}, // outcome: completed or an error kind
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_submission_duration_ms",
			Help:    "Wall time of a whole submission in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"language"},
	)

	TestResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_test_results_total",
			Help: "Per-test outcomes",
		},
		[]string{"status"},
	)

	PoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grader_pool_in_use",
			Help: "Sandbox pool slots currently held",
		},
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_memory_usage_kb",
			Help:    "Peak memory usage per submission in KB",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
		},
		[]string{"language"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
