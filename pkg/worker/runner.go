package worker

import (
	"context"
	"encoding/json"

	"github.com/cuemby/orchestra/pkg/types"
)

// ProgressFunc is called by a Runner each time the running job reports
// new progress, so the pool can forward it to the Controller without
// waiting for the job to finish.
type ProgressFunc func(progress types.Progress, report *types.Report)

// RunRequest describes a single job execution.
type RunRequest struct {
	Host    string
	Token   string
	JobName string
	Input   json.RawMessage

	// AbortRequested is polled by the Runner to decide when to
	// request graceful termination of the running job.
	AbortRequested func() bool

	// OnProgress is invoked as the job reports progress.
	OnProgress ProgressFunc
}

// Runner executes one job to completion, returning its final report.
// A non-nil report may be returned alongside an error: a job that
// fails partway still has a report worth keeping.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*types.Report, error)
}
