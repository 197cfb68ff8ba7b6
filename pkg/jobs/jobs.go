package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/orchestra/pkg/jobcontext"
	"github.com/cuemby/orchestra/pkg/types"
)

// Callable is the function signature every registered job implements.
// It receives a cancellable context (canceled once AbortRequested would
// be honored at the process_timeout boundary) and the caller's raw
// input, and reports progress through jc.
type Callable func(ctx context.Context, jc *jobcontext.JobContext, input json.RawMessage) error

// Def pairs a callable with an optional JSON schema describing its
// input. The schema is carried with the definition only; no submission
// is validated against it.
type Def struct {
	Name        string
	Callable    Callable
	InputSchema json.RawMessage
}

// registry is the process-global dispatch table, populated at startup
// by Register calls in each job's init (spec.md §9 "replacing dynamic
// dispatch of job callables").
var registry = map[string]Def{}

// Register adds a job definition under name. Calling Register twice
// for the same name is a programming error and panics, matching
// warren's fail-fast style for startup-time misconfiguration.
func Register(def Def) {
	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("jobs: duplicate registration for %q", def.Name))
	}
	registry[def.Name] = def
}

// Lookup returns the Def registered under name.
func Lookup(name string) (Def, bool) {
	def, ok := registry[name]
	return def, ok
}

// Names returns every registered job name, for diagnostics.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	Register(Def{Name: "demo", Callable: runDemo})
}

// demoInput controls the built-in demo job used by the end-to-end
// scenarios (spec.md §8 S1/S2): it sleeps for Duration in small steps,
// reporting progress, then succeeds or fails depending on Success.
type demoInput struct {
	DurationMS int  `json:"duration_ms"`
	Success    bool `json:"success"`
	Steps      int  `json:"steps"`
}

func runDemo(ctx context.Context, jc *jobcontext.JobContext, input json.RawMessage) error {
	var in demoInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return fmt.Errorf("demo: invalid input: %w", err)
		}
	}
	if in.Steps <= 0 {
		in.Steps = 10
	}
	step := time.Duration(in.DurationMS) * time.Millisecond / time.Duration(in.Steps)

	jc.Log(types.LogStartup, "demo", "job started")
	for i := 1; i <= in.Steps; i++ {
		if jc.AbortRequested() {
			jc.Log(types.LogEvent, "demo", "abort observed, stopping early")
			return fmt.Errorf("demo: aborted at step %d/%d", i, in.Steps)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		jc.SetProgress(i*100/in.Steps, fmt.Sprintf("step %d/%d", i, in.Steps))
	}

	if !in.Success {
		jc.Log(types.LogError, "demo", "job configured to fail")
		return fmt.Errorf("demo: configured to fail")
	}
	jc.Log(types.LogShutdown, "demo", "job completed")
	jc.SetData([]byte(`{"result":"ok"}`))
	return nil
}
