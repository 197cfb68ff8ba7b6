package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/orchestra/pkg/abort"
	"github.com/cuemby/orchestra/pkg/controller"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
)

// SubmitRequest is the validated input to Submit: the job's payload,
// which registered callable should run it, and optional bookkeeping
// (callback URL, expiration).
type SubmitRequest struct {
	OriginalBody []byte
	JobName      string
	Properties   map[string]string
	CallbackURL  string
	// TTL, if non-zero, sets the token's expiration (Token.Expires).
	TTL time.Duration
}

// Adapter is the ServiceAdapter (spec.md §4.8): the facade a
// higher-level service calls instead of touching pkg/controller or
// pkg/abort directly, grounded on warren/pkg/manager.Manager's role as
// the one object composing a replica's subsystems behind a narrow
// public API.
type Adapter struct {
	controlPlane controller.ControlPlane
	abortCoord   *abort.Coordinator
	host         string
	now          func() time.Time
}

// New builds an Adapter bound to host (used as JobInfo.Host).
func New(controlPlane controller.ControlPlane, abortCoord *abort.Coordinator, host string) *Adapter {
	return &Adapter{controlPlane: controlPlane, abortCoord: abortCoord, host: host, now: time.Now}
}

// Submit validates req, allocates a token, and writes a JobConfig to
// the Queue/Registry via the Controller. Returns the allocated Token.
func (a *Adapter) Submit(ctx context.Context, req SubmitRequest) (types.Token, error) {
	if req.JobName == "" {
		return types.Token{}, orcherr.New(orcherr.BadRequest, fmt.Errorf("service: job name is required"))
	}

	token := types.Token{Value: uuid.NewString()}
	if req.TTL > 0 {
		token.Expires = true
		token.ExpiresAt = a.now().Add(req.TTL)
	}

	cfg := types.JobConfig{
		OriginalBody: req.OriginalBody,
		RequestBody:  req.OriginalBody,
		Properties:   req.Properties,
		Token:        token,
		JobName:      req.JobName,
		CallbackURL:  req.CallbackURL,
	}
	if err := a.controlPlane.Submit(ctx, cfg, a.host); err != nil {
		return types.Token{}, err
	}
	return token, nil
}

// Poll returns the cheap Progress view of a job (spec.md §6.2
// `GET /progress?token=`).
func (a *Adapter) Poll(ctx context.Context, token string) (types.Progress, error) {
	info, err := a.controlPlane.Get(ctx, token)
	if err != nil {
		return types.Progress{}, err
	}
	return info.Progress, nil
}

// GetInfo returns the full JobInfo for a token.
func (a *Adapter) GetInfo(ctx context.Context, token string) (types.JobInfo, error) {
	return a.controlPlane.Get(ctx, token)
}

// GetReport returns the most recently flushed Report for a token,
// which may lag an in-flight job by up to registry_push_interval.
func (a *Adapter) GetReport(ctx context.Context, token string) (*types.Report, error) {
	info, err := a.controlPlane.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return info.Report, nil
}

// Abort requests termination of token through the Abort Coordinator.
func (a *Adapter) Abort(ctx context.Context, token string, opts abort.Options) (abort.Result, error) {
	return a.abortCoord.Abort(ctx, token, opts)
}

// ProgressHook receives a Progress update during Run.
type ProgressHook func(types.Progress)

// Run polls token at the given cadence, invoking hook on every update,
// until the job reaches a terminal status or ctx is canceled (spec.md
// §4.8's optional `run(hooks)` loop for services that surface a UI).
func (a *Adapter) Run(ctx context.Context, token string, interval time.Duration, hook ProgressHook) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := a.controlPlane.Get(ctx, token)
			if err != nil {
				continue
			}
			hook(info.Progress)
			if info.Status == types.StatusCompleted || info.Status == types.StatusAborted {
				return nil
			}
		}
	}
}
