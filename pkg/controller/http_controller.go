package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
)

// HTTPController is the remote Controller dialect (spec.md §4.5,
// §6.1): a thin client that translates every Controller operation into
// a call against a peer orchestra replica's /orchestration routes,
// grounded on warren's worker.go dial-with-retry pattern against the
// manager (simplified here to plain HTTP, since spec.md's Non-goals
// exclude mTLS).
type HTTPController struct {
	BaseURL       string
	Client        *http.Client
	MaxRetries    int
	RetryInterval time.Duration
}

// NewHTTPController builds a client against baseURL with the given
// per-request timeout, retry count, and inter-retry delay
// (ORCHESTRA_CONTROLLER_ARGS: timeout, max_retries, retry_interval).
func NewHTTPController(baseURL string, timeout time.Duration, maxRetries int, retryInterval time.Duration) *HTTPController {
	return &HTTPController{
		BaseURL:       baseURL,
		Client:        &http.Client{Timeout: timeout},
		MaxRetries:    maxRetries,
		RetryInterval: retryInterval,
	}
}

func (c *HTTPController) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("http controller: marshal request: %w", err)
		}
	}

	var lastErr error
	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.RetryInterval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("http controller: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = orcherr.New(orcherr.BackendUnavailable, err)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = orcherr.New(orcherr.BackendUnavailable, readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("http controller: decode response: %w", err)
				}
			}
			return nil
		}

		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Kind != "" {
			return orcherr.New(orcherr.Kind(errResp.Kind), fmt.Errorf("%s", errResp.Message))
		}
		lastErr = orcherr.New(orcherr.BackendUnavailable, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return lastErr
}

func (c *HTTPController) Submit(ctx context.Context, cfg types.JobConfig, host string) error {
	return c.do(ctx, http.MethodPost, "/orchestration/submit", submitRequest{Config: cfg, Host: host}, nil)
}

func (c *HTTPController) Get(ctx context.Context, token string) (types.JobInfo, error) {
	var info types.JobInfo
	path := "/orchestration/job?token=" + url.QueryEscape(token)
	err := c.do(ctx, http.MethodGet, path, nil, &info)
	return info, err
}

func (c *HTTPController) RequestAbort(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/orchestration/abort_mark", terminateRequest{Token: token}, nil)
}

func (c *HTTPController) Lease(ctx context.Context, owner types.WorkerID) (types.QueueEntry, types.JobInfo, error) {
	var resp leaseResponse
	err := c.do(ctx, http.MethodPost, "/orchestration/lease", leaseRequest{Owner: owner}, &resp)
	return resp.Entry, resp.Info, err
}

func (c *HTTPController) Refresh(ctx context.Context, token, leaseID string) error {
	return c.do(ctx, http.MethodPost, "/orchestration/refresh", refreshRequest{Token: token, LeaseID: leaseID}, nil)
}

func (c *HTTPController) UpdateProgress(ctx context.Context, token, leaseID string, progress types.Progress, report *types.Report) error {
	return c.do(ctx, http.MethodPost, "/orchestration/progress", progressRequest{
		Token: token, LeaseID: leaseID, Progress: progress, Report: report,
	}, nil)
}

func (c *HTTPController) Complete(ctx context.Context, token, leaseID string, report *types.Report) error {
	return c.do(ctx, http.MethodPost, "/orchestration/complete", terminateRequest{Token: token, LeaseID: leaseID, Report: report}, nil)
}

func (c *HTTPController) Fail(ctx context.Context, token, leaseID string, report *types.Report) error {
	return c.do(ctx, http.MethodPost, "/orchestration/fail", terminateRequest{Token: token, LeaseID: leaseID, Report: report}, nil)
}

func (c *HTTPController) Requeue(ctx context.Context, token, leaseID string) error {
	return c.do(ctx, http.MethodPost, "/orchestration/requeue", refreshRequest{Token: token, LeaseID: leaseID}, nil)
}

func (c *HTTPController) AbortRequested(ctx context.Context, token string) (bool, error) {
	var resp abortRequestedResponse
	path := "/orchestration/abort_requested?token=" + url.QueryEscape(token)
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.AbortRequested, err
}
