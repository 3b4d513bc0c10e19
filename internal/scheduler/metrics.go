package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stats_scheduler_job_runs_total",
		Help: "Outcome of scheduler job ticks",
	}, []string{"job", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "video_stats_scheduler_job_duration_seconds",
		Help:    "Wall-clock duration of one scheduler job tick",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 10),
	}, []string{"job"})

	jobConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "video_stats_scheduler_job_consecutive_failures",
		Help: "Current consecutive-failure count per job, reset to 0 on success",
	}, []string{"job"})

	jobSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stats_scheduler_job_skipped_total",
		Help: "Ticks skipped because the previous invocation of that job was still running",
	}, []string{"job"})

	dispatchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stats_scheduler_dispatch_outcomes_total",
		Help: "Outcome of per-schedule dispatch-due attempts",
	}, []string{"outcome"})

	reapedLeasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stats_scheduler_reaped_leases_total",
		Help: "Schedules returned from running to idle by the lease reaper",
	}, []string{"trigger"})
)
