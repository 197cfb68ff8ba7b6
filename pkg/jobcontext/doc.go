// Package jobcontext provides JobContext, the single object a running
// job callable uses to report progress, log, register child jobs, and
// observe abort requests. It owns the only mutable Report for its job:
// every mutation goes through JobContext so the Report has exactly one
// writer, matching the single-writer discipline the teacher's
// events.Broker uses for published events.
package jobcontext
