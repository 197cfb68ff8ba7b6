package controller

import (
	"context"

	"github.com/cuemby/orchestra/pkg/types"
)

// ControlPlane is the full surface a ServiceAdapter needs from a
// Controller, a superset of pkg/worker.Controller: submission and
// lookup in addition to the worker-facing lease/refresh/terminate
// operations (spec.md §6.2 submit/poll/get_info/get_report/abort).
type ControlPlane interface {
	// Submit enqueues cfg for dispatch and creates its Registry entry
	// in StatusQueued. It is an error to resubmit an existing token.
	Submit(ctx context.Context, cfg types.JobConfig, host string) error

	// Get returns the current JobInfo for a token.
	Get(ctx context.Context, token string) (types.JobInfo, error)

	// RequestAbort sets the cooperative abort flag on a token,
	// regardless of which replica holds its lease.
	RequestAbort(ctx context.Context, token string) error

	Lease(ctx context.Context, owner types.WorkerID) (types.QueueEntry, types.JobInfo, error)
	Refresh(ctx context.Context, token, leaseID string) error
	UpdateProgress(ctx context.Context, token, leaseID string, progress types.Progress, report *types.Report) error
	Complete(ctx context.Context, token, leaseID string, report *types.Report) error
	Fail(ctx context.Context, token, leaseID string, report *types.Report) error
	Requeue(ctx context.Context, token, leaseID string) error
	AbortRequested(ctx context.Context, token string) (bool, error)
}
