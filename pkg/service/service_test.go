package service

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/orchestra/pkg/abort"
	"github.com/cuemby/orchestra/pkg/controller"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T) (*Adapter, *controller.SQLiteController) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestra.db")
	cp, err := controller.NewSQLiteController(path, time.Second, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cp.Close() })

	coord := abort.New(cp, nil, http.DefaultClient, time.Second, time.Millisecond)
	return New(cp, coord, "host1"), cp
}

func TestSubmitThenPoll(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	token, err := a.Submit(ctx, SubmitRequest{JobName: "demo", OriginalBody: []byte(`{"duration_ms":1,"success":true}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)

	progress, err := a.Poll(ctx, token.Value)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, progress.Status)
}

func TestSubmitRequiresJobName(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	_, err := a.Submit(ctx, SubmitRequest{OriginalBody: []byte(`{}`)})
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.BadRequest, kind)
}

func TestGetInfoAndGetReportUnknownToken(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	_, err := a.GetInfo(ctx, "no-such-token")
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.UnknownToken, kind)

	_, err = a.GetReport(ctx, "no-such-token")
	kind, ok = orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.UnknownToken, kind)
}

func TestAbortOnQueuedJobSetsFlag(t *testing.T) {
	ctx := context.Background()
	a, cp := newAdapter(t)

	token, err := a.Submit(ctx, SubmitRequest{JobName: "demo", OriginalBody: []byte(`{}`)})
	require.NoError(t, err)

	result, err := a.Abort(ctx, token.Value, abort.Options{Block: false, Origin: "test", Reason: "cancel"})
	require.NoError(t, err)
	assert.True(t, result.Partial)

	requested, err := cp.AbortRequested(ctx, token.Value)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestRunInvokesHookUntilTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	a, cp := newAdapter(t)

	token, err := a.Submit(ctx, SubmitRequest{JobName: "demo", OriginalBody: []byte(`{}`)})
	require.NoError(t, err)

	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		entry, _, err := cp.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
		if err == nil {
			_ = cp.Complete(ctx, entry.Token.Value, entry.LeaseID, types.NewReport("host1", entry.Token.Value))
		}
	}()

	err = a.Run(ctx, token.Value, 5*time.Millisecond, func(p types.Progress) { calls++ })
	require.NoError(t, err)
	assert.Greater(t, calls, 0)
}
