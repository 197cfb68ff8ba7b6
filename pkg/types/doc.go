/*
Package types defines the core data structures shared across orchestra.

It holds the wire- and storage-level shape of a job: its Token, the
JobConfig a caller submits, the JobInfo the Registry keeps, and the
Report a running job accumulates. Every other package (queue, registry,
worker, controller, service, api) operates on these types rather than
defining its own.

# State machine

A job's Progress.Status moves through:

	queued → running → {completed | aborted}

The only back-edge is running → queued, triggered by an explicit
re-queue after a worker crash or lease expiry; it also clears
JobInfo.StartedAt.

All types are JSON-serializable; the disk and SQL storage backends both
store them as JSON blobs, and the HTTP API speaks them directly.
*/
package types
