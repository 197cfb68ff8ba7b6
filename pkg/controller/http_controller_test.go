package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeControllerServer stands in for pkg/api's mount of the
// /orchestration worker routes, just enough to exercise HTTPController
// without a running orchestra replica.
func newFakeControllerServer(t *testing.T) (*httptest.Server, *SQLiteController) {
	t.Helper()
	backing := newSQLiteController(t)

	mux := http.NewServeMux()
	writeErr := func(w http.ResponseWriter, err error) {
		kind, ok := orcherr.As(err)
		if !ok {
			kind = orcherr.Fatal
		}
		w.WriteHeader(orcherr.HTTPStatus(err))
		_ = json.NewEncoder(w).Encode(errorResponse{Kind: string(kind), Message: err.Error()})
	}

	mux.HandleFunc("/orchestration/submit", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := backing.Submit(r.Context(), req.Config, req.Host); err != nil {
			writeErr(w, err)
			return
		}
	})
	mux.HandleFunc("/orchestration/job", func(w http.ResponseWriter, r *http.Request) {
		info, err := backing.Get(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/orchestration/lease", func(w http.ResponseWriter, r *http.Request) {
		var req leaseRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		entry, info, err := backing.Lease(r.Context(), req.Owner)
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(leaseResponse{Entry: entry, Info: info})
	})
	mux.HandleFunc("/orchestration/complete", func(w http.ResponseWriter, r *http.Request) {
		var req terminateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := backing.Complete(r.Context(), req.Token, req.LeaseID, req.Report); err != nil {
			writeErr(w, err)
			return
		}
	})
	mux.HandleFunc("/orchestration/abort_requested", func(w http.ResponseWriter, r *http.Request) {
		requested, err := backing.AbortRequested(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			writeErr(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(abortRequestedResponse{AbortRequested: requested})
	})
	mux.HandleFunc("/orchestration/abort_mark", func(w http.ResponseWriter, r *http.Request) {
		var req terminateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := backing.RequestAbort(r.Context(), req.Token); err != nil {
			writeErr(w, err)
			return
		}
	})

	return httptest.NewServer(mux), backing
}

func TestHTTPControllerSubmitGetLeaseComplete(t *testing.T) {
	srv, _ := newFakeControllerServer(t)
	defer srv.Close()
	client := NewHTTPController(srv.URL, time.Second, 0, 0)
	ctx := context.Background()

	require.NoError(t, client.Submit(ctx, demoConfig("t1"), "host1"))

	info, err := client.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, info.Status)

	entry, leased, err := client.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.Token.Value)
	assert.Equal(t, types.StatusRunning, leased.Status)

	report := types.NewReport("host1", "t1")
	require.NoError(t, client.Complete(ctx, "t1", entry.LeaseID, report))
}

func TestHTTPControllerTranslatesErrorKind(t *testing.T) {
	srv, _ := newFakeControllerServer(t)
	defer srv.Close()
	client := NewHTTPController(srv.URL, time.Second, 0, 0)
	ctx := context.Background()

	_, err := client.Get(ctx, "no-such-token")
	kind, ok := orcherr.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.UnknownToken, kind)
}

func TestHTTPControllerAbortMarkThenAbortRequested(t *testing.T) {
	srv, _ := newFakeControllerServer(t)
	defer srv.Close()
	client := NewHTTPController(srv.URL, time.Second, 0, 0)
	ctx := context.Background()

	require.NoError(t, client.Submit(ctx, demoConfig("t1"), "host1"))
	requested, err := client.AbortRequested(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, client.RequestAbort(ctx, "t1"))
	requested, err = client.AbortRequested(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestHTTPControllerRetriesOnTransientFailure(t *testing.T) {
	var attempts int
	mux := http.NewServeMux()
	mux.HandleFunc("/orchestration/job", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(types.JobInfo{Token: types.Token{Value: "t1"}, Status: types.StatusQueued})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPController(srv.URL, time.Second, 3, time.Millisecond)
	info, err := client.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", info.Token.Value)
	assert.Equal(t, 3, attempts)
}
