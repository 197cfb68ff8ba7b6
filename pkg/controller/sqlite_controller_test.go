package controller

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteController(t *testing.T) *SQLiteController {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestra.db")
	c, err := NewSQLiteController(path, time.Second, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func demoConfig(token string) types.JobConfig {
	return types.JobConfig{
		Token:       types.Token{Value: token},
		JobName:     "demo",
		RequestBody: []byte(`{"duration_ms":1,"success":true}`),
	}
}

func TestSQLiteControllerSubmitThenLease(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)

	require.NoError(t, c.Submit(ctx, demoConfig("t1"), "host1"))

	info, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, info.Status)

	entry, leased, err := c.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.Token.Value)
	assert.Equal(t, types.StatusRunning, leased.Status)
	assert.NotEmpty(t, entry.LeaseID)
}

func TestSQLiteControllerLeaseWithNothingQueuedIsBusy(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)

	_, _, err := c.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.Busy, kind)
}

func TestSQLiteControllerCompleteReleasesLeaseAndRemovesFromQueue(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)
	require.NoError(t, c.Submit(ctx, demoConfig("t1"), "host1"))
	entry, _, err := c.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)

	report := types.NewReport("host1", "t1")
	require.NoError(t, c.Complete(ctx, "t1", entry.LeaseID, report))

	info, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, info.Status)

	_, err = c.queue.Get("t1")
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.UnknownToken, kind)
}

func TestSQLiteControllerRequeueIncrementsCount(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)
	require.NoError(t, c.Submit(ctx, demoConfig("t1"), "host1"))
	entry, _, err := c.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)

	require.NoError(t, c.Requeue(ctx, "t1", entry.LeaseID))

	info, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, info.Status)

	entry2, err := c.queue.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry2.RequeueCount)
}

func TestSQLiteControllerRefreshRejectsStaleLease(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)
	require.NoError(t, c.Submit(ctx, demoConfig("t1"), "host1"))
	_, _, err := c.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)

	err = c.Refresh(ctx, "t1", "not-the-real-lease-id")
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.LeaseLost, kind)
}

func TestSQLiteControllerAbortRequested(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteController(t)
	require.NoError(t, c.Submit(ctx, demoConfig("t1"), "host1"))

	requested, err := c.AbortRequested(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, c.RequestAbort(ctx, "t1"))
	requested, err = c.AbortRequested(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, requested)
}
