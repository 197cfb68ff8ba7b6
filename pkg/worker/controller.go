package worker

import (
	"context"

	"github.com/cuemby/orchestra/pkg/types"
)

// Controller is the subset of pkg/controller's surface a worker needs:
// leasing, extending, and terminating jobs. Both the SQLite and HTTP
// dialects implement it; the worker never knows which one it is
// talking to.
type Controller interface {
	// Lease attempts to claim the next dispatchable job for owner.
	// Returns an orcherr with Kind Busy if nothing is currently
	// dispatchable.
	Lease(ctx context.Context, owner types.WorkerID) (types.QueueEntry, types.JobInfo, error)

	// Refresh extends the lease identified by leaseID. Returns an
	// orcherr with Kind LeaseLost if it no longer matches the stored
	// lease (another worker has since reclaimed the job).
	Refresh(ctx context.Context, token, leaseID string) error

	// UpdateProgress reports the job's current progress and report
	// snapshot without altering its lease.
	UpdateProgress(ctx context.Context, token, leaseID string, progress types.Progress, report *types.Report) error

	// Complete marks the job Completed and releases its lease.
	Complete(ctx context.Context, token, leaseID string, report *types.Report) error

	// Fail marks the job Aborted and releases its lease.
	Fail(ctx context.Context, token, leaseID string, report *types.Report) error

	// Requeue returns the job to Queued, releasing its lease, and
	// increments its requeue count.
	Requeue(ctx context.Context, token, leaseID string) error

	// AbortRequested reports whether any replica has asked this job to
	// terminate.
	AbortRequested(ctx context.Context, token string) (bool, error)
}
