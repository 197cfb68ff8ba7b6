package jobcontext

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/orchestra/pkg/types"
)

// PushFunc delivers the current progress and report snapshot to the
// registry. JobContext calls it from Push after releasing mu, so two
// concurrent Push calls can run it at the same time.
type PushFunc func(progress types.Progress, report *types.Report) error

// JobContext is created once per running job and handed to its
// callable. It is safe for concurrent use: the callable's own
// goroutines may log or check AbortRequested while the worker's abort
// watcher polls it from another goroutine.
type JobContext struct {
	mu sync.Mutex

	host     string
	token    string
	progress types.Progress
	report   *types.Report
	children []*types.ChildJobRef

	abortRequested atomic.Bool

	pushFn       PushFunc
	pushInterval time.Duration
	lastPush     time.Time
}

// New creates a JobContext for token running on host. pushFn is called
// by Push; pushInterval is the minimum gap between two non-forced
// pushes.
func New(host, token string, pushFn PushFunc, pushInterval time.Duration) *JobContext {
	return &JobContext{
		host:         host,
		token:        token,
		progress:     types.Progress{Status: types.StatusRunning},
		report:       types.NewReport(host, token),
		pushFn:       pushFn,
		pushInterval: pushInterval,
	}
}

// Log appends a log line to the report under category.
func (jc *JobContext) Log(category types.LogCategory, origin, body string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.report.Append(category, origin, body)
}

// SetProgress updates the cheap polled progress view. numeric must be
// non-decreasing for a fixed status; callers intentionally lowering it
// (e.g. restarting a sub-phase) should change verbose instead.
func (jc *JobContext) SetProgress(numeric int, verbose string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if numeric < jc.progress.Numeric {
		numeric = jc.progress.Numeric
	}
	jc.progress.Numeric = numeric
	jc.progress.Verbose = verbose
}

// SetData overwrites the report's arbitrary output payload.
func (jc *JobContext) SetData(data []byte) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.report.Data = append([]byte(nil), data...)
}

// AddChild registers a child job started by this job. Children are
// addressed by ChildJobRef (token + host URL), never by pointer into
// the parent's own state, so a cycle back to an ancestor is impossible
// by construction.
func (jc *JobContext) AddChild(ref types.ChildJobRef) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.children = append(jc.children, &ref)
}

// Children returns a snapshot of the currently registered child refs.
func (jc *JobContext) Children() []types.ChildJobRef {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make([]types.ChildJobRef, len(jc.children))
	for i, c := range jc.children {
		out[i] = *c
	}
	return out
}

// SnapshotChildReport records the latest report seen from a child
// before an abort cascade deletes it, so the parent's final report
// still carries whatever progress the child made.
func (jc *JobContext) SnapshotChildReport(token string, report *types.Report) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	for _, c := range jc.children {
		if c.Token == token {
			c.LatestReport = report
			return
		}
	}
}

// Report returns a deep-enough snapshot of the current report for
// pushing or returning to a caller: the top-level struct is copied and
// Children is rebuilt from the registered child refs, but Log is shared
// with the live report and must not be mutated by the caller.
func (jc *JobContext) Report() *types.Report {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	snapshot := *jc.report
	snapshot.Children = make(map[types.ReportIdentifier]*types.Report, len(jc.children))
	for _, c := range jc.children {
		if c.LatestReport != nil {
			key := types.ReportIdentifier(c.Token + "@" + jc.host)
			snapshot.Children[key] = c.LatestReport
		}
	}
	return &snapshot
}

// Progress returns the current progress view.
func (jc *JobContext) Progress() types.Progress {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.progress
}

// RequestAbort sets the local abort flag. It is called by the worker's
// abort watcher when it observes AbortRequested set in the registry, or
// directly by an in-process caller.
func (jc *JobContext) RequestAbort() {
	jc.abortRequested.Store(true)
}

// AbortRequested reports whether termination has been requested. A
// well-behaved callable polls this between steps and returns promptly
// once it is true.
func (jc *JobContext) AbortRequested() bool {
	return jc.abortRequested.Load()
}

// Push delivers the current progress and report via pushFn, skipping
// the call if the last push was more recent than pushInterval, unless
// force is true (used for the final push before a job terminates).
func (jc *JobContext) Push(force bool, now time.Time) error {
	jc.mu.Lock()
	if !force && jc.pushInterval > 0 && now.Sub(jc.lastPush) < jc.pushInterval {
		jc.mu.Unlock()
		return nil
	}
	progress := jc.progress
	snapshot := *jc.report
	snapshot.Children = make(map[types.ReportIdentifier]*types.Report, len(jc.children))
	for _, c := range jc.children {
		if c.LatestReport != nil {
			key := types.ReportIdentifier(c.Token + "@" + jc.host)
			snapshot.Children[key] = c.LatestReport
		}
	}
	jc.lastPush = now
	jc.mu.Unlock()

	return jc.pushFn(progress, &snapshot)
}
