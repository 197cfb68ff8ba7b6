package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/orchestra/pkg/jobcontext"
	"github.com/cuemby/orchestra/pkg/jobs"
	"github.com/cuemby/orchestra/pkg/types"
)

// RunChild looks up jobName and runs it to completion in the current
// process, streaming wireMessage JSON lines to out. It is the entry
// point the "run-job" CLI subcommand calls inside the forked child;
// ExecRunner is the parent-side counterpart that reads what this
// writes.
func RunChild(ctx context.Context, host, token, jobName string, input json.RawMessage, pushInterval time.Duration, out io.Writer) error {
	def, ok := jobs.Lookup(jobName)
	if !ok {
		return fmt.Errorf("run-job: unknown job %q", jobName)
	}

	enc := json.NewEncoder(out)
	var mu sync.Mutex
	jc := jobcontext.New(host, token, func(p types.Progress, rep *types.Report) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(wireMessage{Type: "progress", Progress: &p, Report: rep})
	}, pushInterval)

	go func() {
		<-ctx.Done()
		jc.RequestAbort()
	}()

	runErr := def.Callable(ctx, jc, input)
	_ = jc.Push(true, time.Now())

	mu.Lock()
	defer mu.Unlock()
	msg := wireMessage{Type: "done"}
	if runErr != nil {
		msg.Err = runErr.Error()
	}
	if err := enc.Encode(msg); err != nil {
		return err
	}
	return runErr
}
