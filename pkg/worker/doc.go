// Package worker implements the job worker: a pool of slots, each
// leasing one job at a time from a Controller and executing it in an
// isolated child process. A slot's loop is a ticker-driven lease
// attempt, a refresh loop that extends the lease while the job runs,
// and an abort watcher that requests graceful termination and then
// kills the child after a grace period.
package worker
