package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_runs_launched_total",
			Help: "Total number of runs launched",
		},
		[]string{"source"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_runs_completed_total",
			Help: "Total number of runs reaching a terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyberbrain_run_duration_seconds",
			Help:    "Wall time from run start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~8 hours
		},
		[]string{"status"},
	)

	// Scheduler metrics
	ScheduleClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_schedule_claims_total",
			Help: "Total number of schedule claim attempts",
		},
		[]string{"result"},
	)

	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cyberbrain_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
	)

	// Dispatch metrics
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_jobs_dispatched_total",
			Help: "Total number of jobs handed to a worker container",
		},
		[]string{"kind", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyberbrain_job_duration_seconds",
			Help:    "Time a worker container took to run a job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind", "status"},
	)

	// Token metrics
	TokensRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_llm_tokens_total",
			Help: "Total tokens recorded from worker telemetry",
		},
		[]string{"model", "direction"},
	)

	// Host metrics
	HostsHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cyberbrain_hosts_healthy",
			Help: "Number of worker hosts currently healthy",
		},
	)

	HostActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cyberbrain_host_active_runs",
			Help: "Active runs per worker host",
		},
		[]string{"host"},
	)

	HealthProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_host_health_probes_total",
			Help: "Total Docker ping probes issued",
		},
		[]string{"host", "result"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberbrain_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// Scheduler process resource metrics
	SchedulerCPUUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cyberbrain_scheduler_cpu_usage_percent",
			Help: "Current CPU usage percentage of the scheduler process",
		},
		[]string{"scheduler_id"},
	)

	SchedulerMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cyberbrain_scheduler_memory_usage_bytes",
			Help: "Current memory usage of the scheduler process in bytes",
		},
		[]string{"scheduler_id"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunLaunched records a run launch
func RecordRunLaunched(source string) {
	RunsLaunched.WithLabelValues(source).Inc()
}

// RecordRunCompleted records a terminal run with its duration
func RecordRunCompleted(status string, seconds float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(seconds)
}

// RecordScheduleClaim records a claim attempt outcome
func RecordScheduleClaim(result string) {
	ScheduleClaims.WithLabelValues(result).Inc()
}

// RecordJobDispatched records a dispatched job with its duration
func RecordJobDispatched(kind, status string, seconds float64) {
	JobsDispatched.WithLabelValues(kind, status).Inc()
	JobDuration.WithLabelValues(kind, status).Observe(seconds)
}

// RecordTokens records telemetry token counts per model
func RecordTokens(model string, prompt, completion int64) {
	TokensRecorded.WithLabelValues(model, "prompt").Add(float64(prompt))
	TokensRecorded.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordHealthProbe records a Docker ping probe outcome
func RecordHealthProbe(host string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	HealthProbes.WithLabelValues(host, result).Inc()
}

// UpdateSchedulerResourceUsage updates scheduler process resource gauges
func UpdateSchedulerResourceUsage(schedulerID string, cpuPercent, memoryBytes float64) {
	SchedulerCPUUsage.WithLabelValues(schedulerID).Set(cpuPercent)
	SchedulerMemoryUsage.WithLabelValues(schedulerID).Set(memoryBytes)
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string) {
	APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
}
