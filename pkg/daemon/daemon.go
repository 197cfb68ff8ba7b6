package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/orchestra/pkg/log"
	"github.com/cuemby/orchestra/pkg/metrics"
)

// Callable is the periodic unit of work a Daemon supervises. An error
// is logged; the Daemon waits one more interval and tries again — it
// never gives up on its own (spec.md §4.6: "if callable raises, log
// and restart after interval").
type Callable func(ctx context.Context) error

// Daemon wraps Callable in a ticker+stopCh loop, grounded on
// warren/pkg/reconciler.Reconciler's run() shape, generalized from one
// hardcoded reconciliation body to an arbitrary Callable. The
// Controller loop is the canonical caller (spec.md §4.6), but Daemon
// itself knows nothing about Controllers.
type Daemon struct {
	name     string
	callable Callable
	logger   zerolog.Logger

	mu      sync.RWMutex
	active  bool
	daemon  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool
}

// New names a Daemon (used only for logging) around callable.
func New(name string, callable Callable) *Daemon {
	return &Daemon{
		name:     name,
		callable: callable,
		logger:   log.WithComponent("daemon." + name),
	}
}

// Start begins running callable at most every interval. daemon mirrors
// spec.md's `daemon:bool` flag distinguishing a background loop from a
// foreground one; Daemon itself always runs on a goroutine, so the
// flag is carried for introspection (Status, and eventually the
// Orchestration-Controls API) rather than changing scheduling.
// Starting an already-active Daemon is a no-op.
func (d *Daemon) Start(interval time.Duration, isDaemon bool) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return
	}
	d.active = true
	d.daemon = isDaemon
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	stopCh := d.stopCh
	doneCh := d.doneCh
	d.mu.Unlock()

	go d.run(interval, stopCh, doneCh)
}

func (d *Daemon) run(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	d.running.Store(true)
	defer d.running.Store(false)

	d.logger.Info().Dur("interval", interval).Msg("daemon started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			d.logger.Info().Msg("daemon stopped")
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Daemon) tick() {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("daemon callable panicked, will retry next interval")
		}
	}()
	if err := d.callable(context.Background()); err != nil {
		d.logger.Error().Err(err).Msg("daemon callable failed, will retry next interval")
	}
	metrics.DaemonCyclesTotal.Inc()
}

// Stop sets the stop flag. If block, it waits for the running
// goroutine to exit its current tick and return; otherwise it returns
// immediately, leaving the goroutine to wind down on its own.
// Stopping an inactive Daemon is a no-op.
func (d *Daemon) Stop(block bool) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	close(d.stopCh)
	doneCh := d.doneCh
	d.mu.Unlock()

	if block {
		<-doneCh
	}
}

// Status reports desired state (active) and whether the supervising
// goroutine is currently alive (running); the two can diverge briefly
// during Stop(false).
func (d *Daemon) Status() (active, running bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active, d.running.Load()
}
