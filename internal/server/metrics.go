package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on a per-server registry so several servers can
// live in one process (tests do this).
type metrics struct {
	registry *prometheus.Registry

	jobsCreated     prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	jobsRunning     prometheus.Gauge
	progressReports *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	checkpoints     prometheus.Counter
	lastObjective   *prometheus.GaugeVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		jobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyopt_jobs_created_total",
			Help: "Number of optimization jobs submitted",
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyopt_jobs_finished_total",
			Help: "Number of optimization jobs that stopped, by final state",
		}, []string{"state"}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "policyopt_jobs_running",
			Help: "Number of optimization jobs currently running",
		}),
		progressReports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyopt_progress_reports_total",
			Help: "Number of progress callbacks received, by optimizer",
		}, []string{"optimizer"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policyopt_job_duration_seconds",
			Help:    "Wall-clock time spent in the optimizer",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"optimizer"}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyopt_checkpoints_saved_total",
			Help: "Number of checkpoints written to the store",
		}),
		lastObjective: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "policyopt_objective",
			Help: "Most recently reported objective value, by function",
		}, []string{"function"}),
	}
}
