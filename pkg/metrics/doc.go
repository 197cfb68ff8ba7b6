/*
Package metrics provides Prometheus metrics collection and exposition for
the job-orchestration core.

Metrics are defined and registered at package init using the Prometheus
client library, giving observability into queue depth, lease contention,
job duration, and abort activity. Metrics are exposed via an HTTP
endpoint for scraping by Prometheus servers.

# Metrics Catalog

Queue/Registry Gauges (sampled by Collector on a ticker):

orchestra_queue_depth:
  - Type: Gauge
  - Description: Number of jobs currently queued, awaiting lease

orchestra_registry_depth:
  - Type: Gauge
  - Description: Number of jobs tracked in the registry

Lease Metrics:

orchestra_lease_contention_total:
  - Type: Counter
  - Description: Lease attempts that lost a race to another worker

orchestra_lease_refresh_failures_total{reason}:
  - Type: Counter
  - Description: Lease refresh failures by reason

Job Lifecycle Metrics:

orchestra_jobs_submitted_total:
  - Type: Counter
  - Description: Total jobs submitted

orchestra_jobs_completed_total{status}:
  - Type: Counter
  - Description: Jobs reaching a terminal status, by status

orchestra_job_duration_seconds{status}:
  - Type: Histogram
  - Description: Wall-clock duration from lease to terminal status

orchestra_aborts_total{origin}:
  - Type: Counter
  - Description: Abort requests by origin

Worker Pool Gauges:

orchestra_worker_slots_busy / orchestra_worker_slots_total:
  - Type: Gauge
  - Description: Worker pool occupancy

API Metrics:

orchestra_api_requests_total{method, status}:
  - Type: Counter

orchestra_api_request_duration_seconds{method}:
  - Type: Histogram

Notification Metrics:

orchestra_notifications_total{channel, outcome}:
  - Type: Counter

Daemon Metrics:

orchestra_daemon_cycles_total:
  - Type: Counter
  - Description: Controller-daemon submission cycles completed

# Usage

	import "github.com/cuemby/orchestra/pkg/metrics"

	metrics.QueueDepth.Set(5)
	metrics.AbortsTotal.WithLabelValues("api").Inc()

	timer := metrics.NewTimer()
	// ... lease, run, and terminate a job ...
	timer.ObserveDurationVec(metrics.JobDuration, "completed")

	http.Handle("/metrics", metrics.Handler())

Collector polls the gauges that have no natural call site (queue depth,
registry depth, worker pool occupancy) on an interval; the counters and
histograms above are incremented inline where the event actually
happens (pkg/controller, pkg/abort, pkg/api, pkg/notify, pkg/daemon).

# Integration Points

  - pkg/controller: source of queue/registry depth via Status(), increments job duration/completion
  - pkg/worker: source of slot occupancy via Pool.Status()
  - pkg/abort: increments AbortsTotal by origin
  - pkg/api: instruments request count/duration, serves /metrics
  - pkg/notify: increments NotificationsTotal by channel/outcome
  - Prometheus: scrapes /metrics endpoint

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
