package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
)

// validTransitions is the job status lattice (spec.md §3, §8): from any
// state, only the listed next states are legal. running -> queued is
// the sole back-edge, used when a worker requeues a job it could not
// finish.
var validTransitions = map[types.JobStatus][]types.JobStatus{
	types.StatusQueued:    {types.StatusRunning},
	types.StatusRunning:   {types.StatusQueued, types.StatusCompleted, types.StatusAborted},
	types.StatusCompleted: {},
	types.StatusAborted:   {},
}

func transitionAllowed(from, to types.JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Registry wraps a storage.Store whose values are JSON-encoded
// types.JobInfo, keyed by token.
type Registry struct {
	store storage.Store
}

// New wraps an existing storage.Store as a Registry.
func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Create inserts a fresh JobInfo in StatusQueued for a dispatched
// token. It is an error to create an entry for a token already present.
func (r *Registry) Create(cfg types.JobConfig, host string, now time.Time) error {
	_, err := r.store.Read(cfg.Token.Value, false)
	if err == nil {
		return orcherr.New(orcherr.BadRequest, fmt.Errorf("token %q already registered", cfg.Token.Value))
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}

	info := types.JobInfo{
		Token:     cfg.Token,
		Host:      host,
		Config:    cfg,
		Progress:  types.Progress{Status: types.StatusQueued},
		Report:    types.NewReport(host, cfg.Token.Value),
		Status:    types.StatusQueued,
		UpdatedAt: now,
	}
	return r.write(info)
}

func (r *Registry) write(info types.JobInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registry: marshal job info: %w", err)
	}
	if err := r.store.Write(info.Token.Value, data, 0); err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	return nil
}

// Get returns the current JobInfo for a token.
func (r *Registry) Get(token string) (types.JobInfo, error) {
	raw, err := r.store.Read(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.JobInfo{}, orcherr.New(orcherr.UnknownToken, err)
		}
		return types.JobInfo{}, orcherr.New(orcherr.BackendUnavailable, err)
	}
	var info types.JobInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return types.JobInfo{}, fmt.Errorf("registry: unmarshal job info: %w", err)
	}
	return info, nil
}

// Assign marks a token as Running under the given owner/lease, called
// once a worker has successfully leased the job from the Queue.
func (r *Registry) Assign(token string, owner types.WorkerID, leaseID string, leaseExpiresAt, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if !transitionAllowed(info.Status, types.StatusRunning) {
		return orcherr.New(orcherr.BadRequest, fmt.Errorf("token %q: cannot assign from status %q", token, info.Status))
	}
	info.Status = types.StatusRunning
	info.Progress.Status = types.StatusRunning
	info.Owner = &owner
	info.LeaseID = leaseID
	info.LeaseExpiresAt = &leaseExpiresAt
	info.UpdatedAt = now
	if info.StartedAt == nil {
		info.StartedAt = &now
	}
	return r.write(info)
}

// leaseGuard returns orcherr.LeaseLost if leaseID no longer matches the
// stored lease, which is the CAS check every mutating call below
// performs before it writes.
func leaseGuard(info types.JobInfo, leaseID string) error {
	if info.LeaseID != leaseID {
		return orcherr.New(orcherr.LeaseLost, fmt.Errorf("token %q: lease %q no longer held (current %q)", info.Token.Value, leaseID, info.LeaseID))
	}
	return nil
}

// UpdateProgress overwrites Progress and, if report is non-nil,
// replaces Report, preserving the lease only if leaseID still matches.
// Progress.Numeric must never move backwards for the same Status
// (spec.md §8 progress monotonicity); a lower value is clamped.
func (r *Registry) UpdateProgress(token, leaseID string, progress types.Progress, report *types.Report, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if err := leaseGuard(info, leaseID); err != nil {
		return err
	}
	if progress.Status == info.Progress.Status && progress.Numeric < info.Progress.Numeric {
		progress.Numeric = info.Progress.Numeric
	}
	info.Progress = progress
	if report != nil {
		info.Report = report
	}
	info.UpdatedAt = now
	return r.write(info)
}

// Refresh extends the lease expiry of a token a worker still owns.
func (r *Registry) Refresh(token, leaseID string, leaseExpiresAt, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if err := leaseGuard(info, leaseID); err != nil {
		return err
	}
	info.LeaseExpiresAt = &leaseExpiresAt
	info.UpdatedAt = now
	return r.write(info)
}

// Complete marks a token Completed, releasing its lease.
func (r *Registry) Complete(token, leaseID string, report *types.Report, now time.Time) error {
	return r.terminate(token, leaseID, types.StatusCompleted, report, now)
}

// Fail marks a token Aborted due to an unrecoverable error, releasing
// its lease. It is distinct from Abort (pkg/abort), which requests
// termination cooperatively rather than declaring it immediately.
func (r *Registry) Fail(token, leaseID string, report *types.Report, now time.Time) error {
	return r.terminate(token, leaseID, types.StatusAborted, report, now)
}

func (r *Registry) terminate(token, leaseID string, status types.JobStatus, report *types.Report, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if err := leaseGuard(info, leaseID); err != nil {
		return err
	}
	if !transitionAllowed(info.Status, status) {
		return orcherr.New(orcherr.BadRequest, fmt.Errorf("token %q: cannot transition %q -> %q", token, info.Status, status))
	}
	info.Status = status
	info.Progress.Status = status
	if report != nil {
		info.Report = report
	}
	info.Owner = nil
	info.LeaseID = ""
	info.LeaseExpiresAt = nil
	info.UpdatedAt = now
	return r.write(info)
}

// Requeue returns a token to StatusQueued, releasing its lease, for a
// worker that could not complete the job (e.g. a crashed child
// process) and is handing it back to the Queue for retry.
func (r *Registry) Requeue(token, leaseID string, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if !transitionAllowed(info.Status, types.StatusQueued) {
		return orcherr.New(orcherr.BadRequest, fmt.Errorf("token %q: cannot requeue from status %q", token, info.Status))
	}
	if err := leaseGuard(info, leaseID); err != nil {
		return err
	}
	info.Status = types.StatusQueued
	info.Progress.Status = types.StatusQueued
	info.Owner = nil
	info.LeaseID = ""
	info.LeaseExpiresAt = nil
	info.StartedAt = nil
	info.UpdatedAt = now
	return r.write(info)
}

// RequestAbort sets AbortRequested, which any replica may do regardless
// of lease ownership: it is a cooperative flag the owning worker's
// JobContext polls, not a lease-guarded state mutation.
func (r *Registry) RequestAbort(token string, now time.Time) error {
	info, err := r.Get(token)
	if err != nil {
		return err
	}
	if info.Status == types.StatusCompleted || info.Status == types.StatusAborted {
		return nil // idempotent: already terminal
	}
	info.AbortRequested = true
	info.UpdatedAt = now
	return r.write(info)
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Size returns the number of tokens currently tracked, regardless of
// status, for the Orchestration-Controls API's `GET /orchestration`
// status (spec.md §6.1).
func (r *Registry) Size() (int, error) {
	keys, err := r.store.Keys()
	if err != nil {
		return 0, orcherr.New(orcherr.BackendUnavailable, err)
	}
	return len(keys), nil
}

// RunningTokens returns the token values of every job currently in
// StatusRunning, used to populate `orchestrator.jobs` in the
// Orchestration-Controls API status response.
func (r *Registry) RunningTokens() ([]string, error) {
	keys, err := r.store.Keys()
	if err != nil {
		return nil, orcherr.New(orcherr.BackendUnavailable, err)
	}
	var tokens []string
	for _, key := range keys {
		info, err := r.Get(key)
		if err != nil {
			continue
		}
		if info.Status == types.StatusRunning {
			tokens = append(tokens, key)
		}
	}
	return tokens, nil
}
