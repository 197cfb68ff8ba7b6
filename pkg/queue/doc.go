// Package queue implements the job queue: a storage.Store keyed by
// token, holding one types.QueueEntry per submitted job awaiting or
// currently under lease. Dispatch picks the oldest unleased entry
// (ties broken lexicographically by token) and hands it out with a
// fresh lease; the lease is released by Complete/Fail/Requeue or
// reclaimed once it expires.
package queue
