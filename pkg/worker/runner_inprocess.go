package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/orchestra/pkg/jobcontext"
	"github.com/cuemby/orchestra/pkg/jobs"
	"github.com/cuemby/orchestra/pkg/types"
)

// InProcessRunner runs the job callable directly in the worker's own
// process rather than forking a child. It isolates a job only from
// cooperative abort and ctx cancellation, not from a crash, so it
// exists for embedding and tests rather than production use — see
// ExecRunner for the process-isolated default.
type InProcessRunner struct {
	PushInterval time.Duration
}

func (r *InProcessRunner) Run(ctx context.Context, req RunRequest) (*types.Report, error) {
	def, ok := jobs.Lookup(req.JobName)
	if !ok {
		return nil, fmt.Errorf("worker: unknown job %q", req.JobName)
	}

	jc := jobcontext.New(req.Host, req.Token, func(p types.Progress, rep *types.Report) error {
		if req.OnProgress != nil {
			req.OnProgress(p, rep)
		}
		return nil
	}, r.PushInterval)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if req.AbortRequested != nil && req.AbortRequested() {
					jc.RequestAbort()
				}
			case <-ctx.Done():
				jc.RequestAbort()
				return
			case <-stop:
				return
			}
		}
	}()

	err := def.Callable(ctx, jc, req.Input)
	_ = jc.Push(true, time.Now())
	return jc.Report(), err
}
