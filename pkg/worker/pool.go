package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/orchestra/pkg/log"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
)

// Config configures a Pool of worker slots.
type Config struct {
	ReplicaID string
	Host      string
	Slots     int

	Controller Controller
	Runner     Runner

	// LeaseInterval is how often an idle slot polls the Controller for
	// dispatchable work.
	LeaseInterval time.Duration
	// LeaseTTL is requested implicitly by the Controller; RefreshInterval
	// is how often the pool renews a lease it is actively running.
	RefreshInterval time.Duration
	// ProcessTimeout forcibly ends a job (graceful then killed) once
	// exceeded, regardless of cooperative abort.
	ProcessTimeout time.Duration
	// MaxRequeues bounds how many times a failed job is returned to the
	// queue before being marked terminally failed.
	MaxRequeues int

	// HTTPClient delivers the termination callback (spec.md §6.2:
	// "Callback POST <callbackUrl> with JobToken on termination").
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Pool runs Slots concurrent worker slots, each independently leasing
// and executing jobs until Stop is called.
type Pool struct {
	cfg    Config
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[int]string // slot -> token, for Status
}

// NewPool constructs a Pool. Call Start to begin leasing.
func NewPool(cfg Config) *Pool {
	if cfg.LeaseInterval <= 0 {
		cfg.LeaseInterval = time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Pool{cfg: cfg, stopCh: make(chan struct{}), running: make(map[int]string)}
}

// Status reports the pool's slot occupancy for the Orchestration-
// Controls API's `GET /orchestration` (spec.md §6.1: `orchestrator:
// {ready,idle,running,jobs}`). slots is the configured total; busy is
// how many currently hold a leased job; jobs lists their tokens.
func (p *Pool) Status() (slots, busy int, jobs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs = make([]string, 0, len(p.running))
	for _, token := range p.running {
		jobs = append(jobs, token)
	}
	return p.cfg.Slots, len(p.running), jobs
}

// Start launches one goroutine per slot.
func (p *Pool) Start() {
	for slot := 0; slot < p.cfg.Slots; slot++ {
		p.wg.Add(1)
		go p.slotLoop(slot)
	}
}

// Stop signals every slot to finish its current job (if any) and
// return, then blocks until they have.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) slotLoop(slot int) {
	defer p.wg.Done()
	owner := types.WorkerID{ReplicaID: p.cfg.ReplicaID, Slot: slot}

	ticker := time.NewTicker(p.cfg.LeaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runSlot(owner)
		}
	}
}

func (p *Pool) runSlot(owner types.WorkerID) {
	ctx := context.Background()
	entry, info, err := p.cfg.Controller.Lease(ctx, owner)
	if err != nil {
		if kind, ok := orcherr.As(err); ok && kind == orcherr.Busy {
			return
		}
		log.Errorf("worker: lease attempt failed", err)
		return
	}

	p.mu.Lock()
	p.running[owner.Slot] = entry.Token.Value
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, owner.Slot)
		p.mu.Unlock()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.ProcessTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	leaseLost := make(chan struct{})
	refreshDone := make(chan struct{})
	go p.refreshLoop(runCtx, entry.Token.Value, entry.LeaseID, cancel, leaseLost, refreshDone)
	defer func() { <-refreshDone }()

	abortRequested := func() bool {
		ok, err := p.cfg.Controller.AbortRequested(ctx, entry.Token.Value)
		return err == nil && ok
	}

	report, runErr := p.cfg.Runner.Run(runCtx, RunRequest{
		Host:    info.Host,
		Token:   entry.Token.Value,
		JobName: entry.Config.JobName,
		Input:   entry.Config.RequestBody,
		AbortRequested: func() bool {
			select {
			case <-leaseLost:
				return true
			default:
			}
			return abortRequested()
		},
		OnProgress: func(progress types.Progress, rep *types.Report) {
			_ = p.cfg.Controller.UpdateProgress(ctx, entry.Token.Value, entry.LeaseID, progress, rep)
		},
	})

	cancel()

	select {
	case <-leaseLost:
		// Another worker already owns this job; nothing left to release.
		return
	default:
	}

	finishCtx := context.Background()
	if runErr == nil {
		if err := p.cfg.Controller.Complete(finishCtx, entry.Token.Value, entry.LeaseID, report); err != nil {
			log.Errorf("worker: failed to record completion", err)
		}
		p.deliverCallback(entry)
		return
	}

	// A cooperatively aborted job also returns a non-nil runErr (the
	// callable observed AbortRequested and gave up early), but it must
	// resolve as a terminal abort, not a Requeue: re-leasing it would
	// just hand back a job whose AbortRequested flag is still set,
	// which aborts again on the very next attempt.
	if aborted, _ := p.cfg.Controller.AbortRequested(finishCtx, entry.Token.Value); aborted {
		if err := p.cfg.Controller.Fail(finishCtx, entry.Token.Value, entry.LeaseID, report); err != nil {
			log.Errorf("worker: failed to record abort", err)
		}
		p.deliverCallback(entry)
		return
	}

	if errors.Is(runErr, context.DeadlineExceeded) || entry.RequeueCount >= p.cfg.MaxRequeues {
		if err := p.cfg.Controller.Fail(finishCtx, entry.Token.Value, entry.LeaseID, report); err != nil {
			log.Errorf("worker: failed to record failure", err)
		}
		p.deliverCallback(entry)
		return
	}

	if err := p.cfg.Controller.Requeue(finishCtx, entry.Token.Value, entry.LeaseID); err != nil {
		log.Errorf("worker: failed to requeue job", err)
	}
}

// deliverCallback POSTs entry's JobToken to its CallbackURL, if any,
// on job termination (spec.md §6.2). Best-effort: a failed delivery is
// logged, not retried — the caller can always poll the Registry.
func (p *Pool) deliverCallback(entry types.QueueEntry) {
	if entry.Config.CallbackURL == "" {
		return
	}
	payload, err := json.Marshal(types.JobToken{Token: entry.Token})
	if err != nil {
		log.Errorf("worker: failed to marshal callback payload", err)
		return
	}
	resp, err := p.cfg.HTTPClient.Post(entry.Config.CallbackURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Errorf("worker: callback delivery failed", err)
		return
	}
	resp.Body.Close()
}

func (p *Pool) refreshLoop(ctx context.Context, token, leaseID string, cancel context.CancelFunc, leaseLost, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.cfg.Controller.Refresh(context.Background(), token, leaseID); err != nil {
				if kind, ok := orcherr.As(err); ok && kind == orcherr.LeaseLost {
					close(leaseLost)
					cancel()
					return
				}
				log.Errorf("worker: lease refresh failed", err)
			}
		}
	}
}
