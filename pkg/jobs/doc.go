// Package jobs is the dispatch table mapping a job name to the Go
// callable that runs it, replacing dynamic dispatch of job callables
// (spec.md §9). JobConfig.JobName is looked up here by the code that
// runs the job: the forked child (RunChild) or the InProcessRunner.
package jobs
