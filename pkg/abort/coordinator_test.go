package abort

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/orchestra/pkg/notify"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControlPlane struct {
	mu             sync.Mutex
	infos          map[string]types.JobInfo
	abortRequested map[string]bool
	completeAfter  map[string]int // becomes completed after N Get calls
	getCalls       map[string]int
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		infos:          make(map[string]types.JobInfo),
		abortRequested: make(map[string]bool),
		completeAfter:  make(map[string]int),
		getCalls:       make(map[string]int),
	}
}

func (f *fakeControlPlane) Get(ctx context.Context, token string) (types.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[token]++
	info := f.infos[token]
	if n, ok := f.completeAfter[token]; ok && f.getCalls[token] >= n {
		info.Status = types.StatusAborted
		f.infos[token] = info
	}
	return info, nil
}

func (f *fakeControlPlane) RequestAbort(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortRequested[token] = true
	return nil
}

func TestAbortNonBlockingReturnsImmediately(t *testing.T) {
	fc := newFakeControlPlane()
	fc.infos["t1"] = types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusRunning}

	c := New(fc, nil, http.DefaultClient, time.Second, time.Millisecond)
	result, err := c.Abort(context.Background(), "t1", Options{Block: false})
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.True(t, fc.abortRequested["t1"])
}

func TestAbortOnAlreadyTerminalIsNoop(t *testing.T) {
	fc := newFakeControlPlane()
	fc.infos["t1"] = types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusCompleted}

	c := New(fc, nil, http.DefaultClient, time.Second, time.Millisecond)
	result, err := c.Abort(context.Background(), "t1", Options{Block: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.False(t, fc.abortRequested["t1"]) // flag never set on a terminal job
}

func TestAbortBlocksUntilTerminal(t *testing.T) {
	fc := newFakeControlPlane()
	fc.infos["t1"] = types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusRunning}
	fc.completeAfter["t1"] = 3

	c := New(fc, nil, http.DefaultClient, time.Second, time.Millisecond)
	result, err := c.Abort(context.Background(), "t1", Options{Block: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, result.Status)
	assert.False(t, result.Partial)
}

func TestAbortTimesOutWithPartialResult(t *testing.T) {
	fc := newFakeControlPlane()
	fc.infos["t1"] = types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusRunning}

	c := New(fc, nil, http.DefaultClient, 10*time.Millisecond, 2*time.Millisecond)
	result, err := c.Abort(context.Background(), "t1", Options{Block: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, result.Status)
	assert.True(t, result.Partial)
}

func TestAbortBroadcastsToNotifySubscribers(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := notify.New(storage.NewMemoryStore(0), storage.NewMemoryStore(0), &http.Client{Timeout: time.Second})
	sub, err := notifier.Register(srv.URL)
	require.NoError(t, err)
	require.NoError(t, notifier.Subscribe(sub.Token, "abort"))

	fc := newFakeControlPlane()
	fc.infos["t1"] = types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusRunning}

	c := New(fc, notifier, http.DefaultClient, time.Second, time.Millisecond)
	_, err = c.Abort(context.Background(), "t1", Options{Block: false, Origin: "test", Reason: "cancel"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), received.Load())
}

func TestAbortCascadesToChildren(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fc := newFakeControlPlane()
	childID := types.ReportIdentifier("child1@" + srv.URL)
	fc.infos["t1"] = types.JobInfo{
		Token:  types.Token{Value: "t1"},
		Status: types.StatusRunning,
		Report: &types.Report{
			Children: map[types.ReportIdentifier]*types.Report{
				childID: {Token: "child1"},
			},
		},
	}

	c := New(fc, nil, http.DefaultClient, time.Second, time.Millisecond)
	_, err := c.Abort(context.Background(), "t1", Options{Block: false})
	require.NoError(t, err)
	assert.Equal(t, "child1", gotToken)
}
