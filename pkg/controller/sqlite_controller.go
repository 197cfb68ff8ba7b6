package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/queue"
	"github.com/cuemby/orchestra/pkg/registry"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/google/uuid"
)

// SQLiteController is the local Controller dialect (spec.md §4.5, §6.6):
// Queue and Registry each live in their own table of the same SQLite
// database file, reusing storage.SQLStore. The single SQL `UPDATE ...
// WHERE` the spec describes is realized as storage.SQLStore's
// CompareAndSwap, which pkg/queue's Dispatch uses to make the lease
// claim itself atomic across any process sharing this database file;
// leaseMu additionally serializes this process's own Dispatch+Assign
// pair so two local pool slots never even attempt a conflicting write.
type SQLiteController struct {
	queue       *queue.Queue
	registry    *registry.Registry
	leaseTTL    time.Duration
	maxRequeues int
	now         func() time.Time

	leaseMu sync.Mutex
}

// NewSQLiteController opens (or creates) dataSourceName as a SQLite
// database holding a "queue" table and a "registry" table.
func NewSQLiteController(dataSourceName string, leaseTTL time.Duration, maxRequeues int) (*SQLiteController, error) {
	qStore, err := storage.NewSQLStore("sqlite3", dataSourceName, "queue")
	if err != nil {
		return nil, fmt.Errorf("controller: open queue table: %w", err)
	}
	rStore, err := storage.NewSQLStore("sqlite3", dataSourceName, "registry")
	if err != nil {
		return nil, fmt.Errorf("controller: open registry table: %w", err)
	}
	return &SQLiteController{
		queue:       queue.New(qStore),
		registry:    registry.New(rStore),
		leaseTTL:    leaseTTL,
		maxRequeues: maxRequeues,
		now:         time.Now,
	}, nil
}

func (c *SQLiteController) Submit(ctx context.Context, cfg types.JobConfig, host string) error {
	now := c.now()
	if err := c.queue.Enqueue(cfg, now); err != nil {
		return err
	}
	if err := c.registry.Create(cfg, host, now); err != nil {
		return err
	}
	metrics.JobsSubmittedTotal.Inc()
	return nil
}

func (c *SQLiteController) Get(ctx context.Context, token string) (types.JobInfo, error) {
	return c.registry.Get(token)
}

func (c *SQLiteController) RequestAbort(ctx context.Context, token string) error {
	return c.registry.RequestAbort(token, c.now())
}

// Lease dispatches the next unleased Queue entry to owner and moves
// its Registry entry to Running under a freshly minted lease id.
func (c *SQLiteController) Lease(ctx context.Context, owner types.WorkerID) (types.QueueEntry, types.JobInfo, error) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	now := c.now()
	leaseID := uuid.NewString()
	entry, err := c.queue.Dispatch(owner, leaseID, c.leaseTTL, now)
	if err != nil {
		if kind, ok := orcherr.As(err); ok && kind == orcherr.Busy {
			metrics.LeaseContentionTotal.Inc()
		}
		return types.QueueEntry{}, types.JobInfo{}, err
	}
	if err := c.registry.Assign(entry.Token.Value, owner, leaseID, now.Add(c.leaseTTL), now); err != nil {
		return types.QueueEntry{}, types.JobInfo{}, err
	}
	info, err := c.registry.Get(entry.Token.Value)
	if err != nil {
		return types.QueueEntry{}, types.JobInfo{}, err
	}
	return entry, info, nil
}

func (c *SQLiteController) Refresh(ctx context.Context, token, leaseID string) error {
	now := c.now()
	if err := c.queue.Refresh(token, leaseID, c.leaseTTL, now); err != nil {
		if kind, ok := orcherr.As(err); ok {
			metrics.LeaseRefreshFailuresTotal.WithLabelValues(string(kind)).Inc()
		}
		return err
	}
	return c.registry.Refresh(token, leaseID, now.Add(c.leaseTTL), now)
}

func (c *SQLiteController) UpdateProgress(ctx context.Context, token, leaseID string, progress types.Progress, report *types.Report) error {
	return c.registry.UpdateProgress(token, leaseID, progress, report, c.now())
}

func (c *SQLiteController) Complete(ctx context.Context, token, leaseID string, report *types.Report) error {
	started := c.startedAt(token)
	if err := c.registry.Complete(token, leaseID, report, c.now()); err != nil {
		return err
	}
	c.recordTerminal("completed", started)
	return c.queue.Remove(token)
}

func (c *SQLiteController) Fail(ctx context.Context, token, leaseID string, report *types.Report) error {
	started := c.startedAt(token)
	if err := c.registry.Fail(token, leaseID, report, c.now()); err != nil {
		return err
	}
	c.recordTerminal("failed", started)
	return c.queue.Remove(token)
}

// startedAt best-effort captures a job's StartedAt before a terminal
// transition overwrites its registry entry, for the duration histogram
// recorded by recordTerminal.
func (c *SQLiteController) startedAt(token string) *time.Time {
	info, err := c.registry.Get(token)
	if err != nil {
		return nil
	}
	return info.StartedAt
}

func (c *SQLiteController) recordTerminal(status string, started *time.Time) {
	metrics.JobsCompletedTotal.WithLabelValues(status).Inc()
	if started != nil {
		metrics.JobDuration.WithLabelValues(status).Observe(c.now().Sub(*started).Seconds())
	}
}

// Requeue returns the job to Queued in the Registry and clears its
// Queue-side lease, incrementing requeue_count; it fails with
// orcherr.Fatal once maxRequeues is exceeded.
func (c *SQLiteController) Requeue(ctx context.Context, token, leaseID string) error {
	if err := c.registry.Requeue(token, leaseID, c.now()); err != nil {
		return err
	}
	_, err := c.queue.Requeue(token, c.maxRequeues)
	return err
}

func (c *SQLiteController) AbortRequested(ctx context.Context, token string) (bool, error) {
	info, err := c.registry.Get(token)
	if err != nil {
		return false, err
	}
	return info.AbortRequested, nil
}

// Close closes both underlying SQL stores.
func (c *SQLiteController) Close() error {
	if err := c.queue.Close(); err != nil {
		return err
	}
	return c.registry.Close()
}

// Status reports the Queue/Registry sizes and running tokens backing
// the Orchestration-Controls API's `GET /orchestration` (spec.md
// §6.1). It implements pkg/api's optional statusReporter interface;
// HTTPController does not, since a remote replica cannot introspect
// another process's local Queue/Registry without a dedicated route
// this spec does not define.
func (c *SQLiteController) Status() (queueSize, registrySize int, running []string, err error) {
	queueSize, err = c.queue.Size()
	if err != nil {
		return 0, 0, nil, err
	}
	registrySize, err = c.registry.Size()
	if err != nil {
		return 0, 0, nil, err
	}
	running, err = c.registry.RunningTokens()
	if err != nil {
		return 0, 0, nil, err
	}
	return queueSize, registrySize, running, nil
}
