package metrics

import "time"

// statusSource is the subset of pkg/controller.SQLiteController's Status
// method the Collector polls (consumer-defines-interface, mirroring
// pkg/api's statusReporter so both packages can share the same
// Controller without an import cycle).
type statusSource interface {
	Status() (queueSize, registrySize int, running []string, err error)
}

// poolSource is the subset of pkg/worker.Pool's Status method the
// Collector polls.
type poolSource interface {
	Status() (slots, busy int, jobs []string)
}

// Collector periodically samples the queue, registry, and worker pool
// into gauges, generalized from the teacher's manager-polling
// Collector to orchestra's own job-orchestration gauges (spec.md
// §4.14). Counters and histograms (LeaseContentionTotal,
// JobsCompletedTotal, JobDuration, AbortsTotal, ...) are not polled
// here; they are incremented inline at their call sites in
// pkg/controller, pkg/abort, pkg/notify, pkg/api, and pkg/daemon.
type Collector struct {
	status   statusSource
	pool     poolSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a Collector. status and pool may each be nil,
// in which case the corresponding gauges are simply never updated.
func NewCollector(status statusSource, pool poolSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		status:   status,
		pool:     pool,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a ticker, sampling once
// immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectPoolMetrics()
}

func (c *Collector) collectQueueMetrics() {
	if c.status == nil {
		return
	}
	queueSize, registrySize, _, err := c.status.Status()
	if err != nil {
		return
	}
	QueueDepth.Set(float64(queueSize))
	RegistryDepth.Set(float64(registrySize))
}

func (c *Collector) collectPoolMetrics() {
	if c.pool == nil {
		return
	}
	slots, busy, _ := c.pool.Status()
	WorkerSlotsTotal.Set(float64(slots))
	WorkerSlotsBusy.Set(float64(busy))
}
