package bench

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	casesMeasured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whetstone_bench_cases_total",
		Help: "Total number of benchmark cases measured",
	})

	caseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whetstone_bench_case_duration_seconds",
		Help:    "Wall-clock time spent measuring one case, warmup included",
		Buckets: prometheus.DefBuckets,
	})

	timerRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whetstone_bench_timer_runs_total",
		Help: "Total number of timed statement executions",
	})
)
