package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_queue_depth",
			Help: "Number of jobs currently queued, awaiting lease",
		},
	)

	RegistryDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_registry_depth",
			Help: "Number of jobs tracked in the registry",
		},
	)

	// Lease metrics
	LeaseContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestra_lease_contention_total",
			Help: "Total number of lease attempts that lost a race to another worker",
		},
	)

	LeaseRefreshFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_lease_refresh_failures_total",
			Help: "Total number of lease refresh failures, by reason",
		},
		[]string{"reason"},
	)

	// Job lifecycle metrics
	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestra_job_duration_seconds",
			Help:    "Wall-clock duration of a job from lease to terminal status, by status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Abort metrics
	AbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_aborts_total",
			Help: "Total number of abort requests, by origin",
		},
		[]string{"origin"},
	)

	// Worker pool metrics
	WorkerSlotsBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_worker_slots_busy",
			Help: "Number of worker pool slots currently running a job",
		},
	)

	WorkerSlotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_worker_slots_total",
			Help: "Total number of worker pool slots",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestra_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_notifications_total",
			Help: "Total number of notify deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// Daemon metrics
	DaemonCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestra_daemon_cycles_total",
			Help: "Total number of controller-daemon submission cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RegistryDepth)
	prometheus.MustRegister(LeaseContentionTotal)
	prometheus.MustRegister(LeaseRefreshFailuresTotal)
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(AbortsTotal)
	prometheus.MustRegister(WorkerSlotsBusy)
	prometheus.MustRegister(WorkerSlotsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(DaemonCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
