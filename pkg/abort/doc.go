// Package abort implements the Abort Coordinator (spec.md §4.7): one
// idempotent operation that sets the cooperative abort flag, broadcasts
// to peer replicas over pkg/notify, and cascades to child jobs over
// HTTP, with a synchronous-looking contract bounded by
// ORCHESTRA_ABORT_TIMEOUT.
package abort
