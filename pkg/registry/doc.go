// Package registry implements the job registry: a storage.Store keyed
// by token, holding one types.JobInfo per job that has been dispatched
// to a worker. Every write made by the worker holding a job's lease
// (progress, refresh, terminal status, requeue) is guarded by that
// caller's lease id; Create, Assign and RequestAbort take no lease id. A
// mismatch means another worker has since reclaimed the lease, and the
// write is rejected with orcherr.LeaseLost rather than silently
// clobbering the new owner's state.
package registry
