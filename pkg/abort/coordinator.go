package abort

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/orchestra/pkg/log"
	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/notify"
	"github.com/cuemby/orchestra/pkg/types"
)

// ControlPlane is the subset of pkg/controller.ControlPlane the
// Coordinator needs: reading a job's current state and setting its
// cooperative abort flag. Defined here (consumer-defines-interface)
// so abort works identically against the SQLite or HTTP Controller
// dialect.
type ControlPlane interface {
	Get(ctx context.Context, token string) (types.JobInfo, error)
	RequestAbort(ctx context.Context, token string) error
}

// Options configures one Abort call (spec.md §4.7's
// `abort(token, block, re_queue, origin, reason)`).
type Options struct {
	Block   bool
	Requeue bool
	Origin  string
	Reason  string

	// SkipBroadcast disables the cross-replica notify fan-out (spec.md
	// §6.2's `broadcast=` query flag on the service-level DELETE
	// route); the cooperative flag and child cascade still run.
	SkipBroadcast bool
}

// Result reports the outcome of an Abort call.
type Result struct {
	Status  types.JobStatus
	Partial bool // true if the call returned before a terminal status was observed: always for a non-blocking call, and for a blocking call once ORCHESTRA_ABORT_TIMEOUT elapsed
}

// Coordinator implements spec.md §4.7's three abort paths: the
// cooperative flag (shared via ControlPlane regardless of which
// replica answers it), a cross-replica notify broadcast, and an HTTP
// cascade to child jobs.
type Coordinator struct {
	controlPlane ControlPlane
	notifier     *notify.Service
	httpClient   *http.Client
	abortTimeout time.Duration
	pollInterval time.Duration
}

// New builds a Coordinator. abortTimeout bounds a blocking Abort call
// (ORCHESTRA_ABORT_TIMEOUT); pollInterval governs how often it
// re-checks status while blocked.
func New(controlPlane ControlPlane, notifier *notify.Service, httpClient *http.Client, abortTimeout, pollInterval time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Coordinator{
		controlPlane: controlPlane,
		notifier:     notifier,
		httpClient:   httpClient,
		abortTimeout: abortTimeout,
		pollInterval: pollInterval,
	}
}

// Abort requests termination of token. It is idempotent: calling it on
// an already-terminal job is a no-op that immediately reports the
// terminal status.
func (c *Coordinator) Abort(ctx context.Context, token string, opts Options) (Result, error) {
	info, err := c.controlPlane.Get(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if info.Status == types.StatusCompleted || info.Status == types.StatusAborted {
		return Result{Status: info.Status}, nil
	}

	if err := c.controlPlane.RequestAbort(ctx, token); err != nil {
		return Result{}, err
	}
	metrics.AbortsTotal.WithLabelValues(opts.Origin).Inc()

	if !opts.SkipBroadcast {
		c.broadcast(ctx, token, opts)
	}
	c.cascadeToChildren(ctx, info, opts)

	if !opts.Block {
		return Result{Status: info.Status, Partial: true}, nil
	}
	return c.waitForTerminal(ctx, token)
}

// broadcast is best-effort: a notify delivery failure must not prevent
// the local abort flag (already set above) from taking effect.
func (c *Coordinator) broadcast(ctx context.Context, token string, opts Options) {
	if c.notifier == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"token":  token,
		"origin": opts.Origin,
		"reason": opts.Reason,
	})
	if _, err := c.notifier.Notify(ctx, "abort", notify.Request{
		Method: http.MethodDelete,
		JSON:   payload,
		Query:  map[string]string{"token": token, "broadcast": "false"},
	}); err != nil {
		log.Errorf("abort: cross-replica broadcast failed", err)
	}
}

// cascadeToChildren issues an HTTP DELETE against each child job's host
// (spec.md §4.7 path 3), using the latest snapshot already present in
// info.Report.Children as the pre-abort record.
func (c *Coordinator) cascadeToChildren(ctx context.Context, info types.JobInfo, opts Options) {
	if info.Report == nil {
		return
	}
	for identifier := range info.Report.Children {
		childToken, hostURL, ok := splitIdentifier(string(identifier))
		if !ok || hostURL == "" {
			continue
		}
		if err := c.deleteChild(ctx, hostURL, childToken, opts); err != nil {
			log.Errorf("abort: child cascade request failed", err)
		}
	}
}

func (c *Coordinator) deleteChild(ctx context.Context, hostURL, childToken string, opts Options) error {
	body, _ := json.Marshal(map[string]string{"origin": opts.Origin, "reason": opts.Reason})
	url := fmt.Sprintf("%s?token=%s", hostURL, childToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("abort: build child delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("abort: child %s returned status %d", childToken, resp.StatusCode)
	}
	return nil
}

// splitIdentifier parses a ReportIdentifier ("token@host") into its
// parts.
func splitIdentifier(identifier string) (token, host string, ok bool) {
	parts := strings.SplitN(identifier, "@", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (c *Coordinator) waitForTerminal(ctx context.Context, token string) (Result, error) {
	deadline := time.Now().Add(c.abortTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		info, err := c.controlPlane.Get(ctx, token)
		if err != nil {
			return Result{}, err
		}
		if info.Status == types.StatusCompleted || info.Status == types.StatusAborted {
			return Result{Status: info.Status}, nil
		}
		if c.abortTimeout > 0 && time.Now().After(deadline) {
			return Result{Status: info.Status, Partial: true}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
