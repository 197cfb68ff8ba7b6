package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestra/pkg/abort"
	"github.com/cuemby/orchestra/pkg/controller"
	"github.com/cuemby/orchestra/pkg/notify"
	"github.com/cuemby/orchestra/pkg/service"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
)

// testServer wires a Server against a real temp-file SQLiteController,
// the same "exercise the real thing rather than a fake" approach
// service_test.go and http_controller_test.go already use.
func testServer(t *testing.T) (*httptest.Server, *Server, *controller.SQLiteController) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestra.db")
	cp, err := controller.NewSQLiteController(path, time.Second, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cp.Close() })

	coord := abort.New(cp, nil, http.DefaultClient, time.Second, 10*time.Millisecond)
	adapter := service.New(cp, coord, "host1")

	subscribers := storage.NewMemoryStore(time.Minute)
	messages := storage.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = subscribers.Close(); _ = messages.Close() })
	notifier := notify.New(subscribers, messages, http.DefaultClient)

	kv := storage.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = kv.Close() })

	s := New(Config{
		ControlPlane: cp,
		Adapter:      adapter,
		AbortCoord:   coord,
		Notifier:     notifier,
		KV:           kv,
		Host:         "host1",
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, s, cp
}

func TestHealthAndReady(t *testing.T) {
	ts, _, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrchestrationStatusReflectsSubmittedJob(t *testing.T) {
	ts, _, _ := testServer(t)

	body := strings.NewReader(`{"job_name":"demo","original_body":{"duration_ms":1}}`)
	resp, err := http.Post(ts.URL+"/orchestration", "application/json", body)
	require.NoError(t, err)
	var token types.JobToken
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	resp.Body.Close()
	require.NotEmpty(t, token.Token.Value)

	resp, err = http.Get(ts.URL + "/orchestration")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status orchestrationStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.Queue.Size)
	assert.Equal(t, 1, status.Registry.Size)
	assert.Equal(t, "not configured", status.Daemon.Status)
}

func TestServiceLevelJobLifecycle(t *testing.T) {
	ts, _, cp := testServer(t)

	resp, err := http.Post(ts.URL+"/demo", "application/json", strings.NewReader(`{"duration_ms":1}`))
	require.NoError(t, err)
	var token types.JobToken
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/progress?token=" + token.Token.Value)
	require.NoError(t, err)
	var progress types.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	resp.Body.Close()
	assert.Equal(t, types.StatusQueued, progress.Status)

	// No report yet: getReport must 404 via orcherr.UnknownToken.
	resp, err = http.Get(ts.URL + "/report?token=" + token.Token.Value)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Simulate a worker completing the job directly through the
	// Controller (no worker.Pool is wired in this test).
	_, info, err := cp.Lease(context.Background(), types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)
	require.NoError(t, cp.Complete(context.Background(), token.Token.Value, info.LeaseID, &types.Report{
		Token:    token.Token.Value,
		Progress: types.Progress{Status: types.StatusCompleted, Numeric: 100},
	}))

	resp, err = http.Get(ts.URL + "/report?token=" + token.Token.Value)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var report types.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, types.StatusCompleted, report.Progress.Status)
}

func TestDeleteJobRequestsAbort(t *testing.T) {
	ts, _, cp := testServer(t)

	resp, err := http.Post(ts.URL+"/demo", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	var token types.JobToken
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/"+token.Token.Value+"?token="+token.Token.Value+"&broadcast=false", strings.NewReader(`{"origin":"test","reason":"cancel"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	requested, err := cp.AbortRequested(context.Background(), token.Token.Value)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestKVStoreCRUDRoundTrip(t *testing.T) {
	ts, _, _ := testServer(t)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/db", "application/json", strings.NewReader(`{"hello":"world"}`))
	require.NoError(t, err)
	var created kvEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.Key)

	resp, err = client.Get(ts.URL + "/db/" + created.Key)
	require.NoError(t, err)
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	resp.Body.Close()
	assert.JSONEq(t, `{"hello":"world"}`, string(raw))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/db", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	resp.Body.Close()
	assert.Contains(t, keys, created.Key)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/db/"+created.Key, nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/db/" + created.Key)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationRegisterSubscribeNotify(t *testing.T) {
	ts, _, _ := testServer(t)
	client := ts.Client()

	var gotTopic string
	subscriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTopic = r.URL.Query().Get("topic")
		w.WriteHeader(http.StatusOK)
	}))
	defer subscriber.Close()

	resp, err := client.Post(ts.URL+"/registration", "application/json", strings.NewReader(`{"baseUrl":"`+subscriber.URL+`"}`))
	require.NoError(t, err)
	var sub types.Subscriber
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sub))
	resp.Body.Close()
	require.NotEmpty(t, sub.Token)

	resp, err = client.Post(ts.URL+"/subscription?token="+sub.Token+"&topic=deploy", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(ts.URL+"/notify?topic=deploy", "application/json", strings.NewReader(`{"query":{"topic":"deploy"}}`))
	require.NoError(t, err)
	var results []notifyResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	resp.Body.Close()
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "deploy", gotTopic)
}

// TestWireRoutesServeHTTPController exercises the private
// /orchestration/* routes exactly the way another replica's
// controller.HTTPController would dial them, mirroring
// pkg/controller's own newFakeControllerServer pattern but against the
// real api.Server instead of a hand-rolled stand-in.
func TestWireRoutesServeHTTPController(t *testing.T) {
	ts, _, _ := testServer(t)
	client := controller.NewHTTPController(ts.URL, 5*time.Second, 0, 0)

	ctx := context.Background()
	cfg := types.JobConfig{Token: types.Token{Value: "tok-1"}, JobName: "demo"}
	require.NoError(t, client.Submit(ctx, cfg, "host1"))

	info, err := client.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, info.Status)

	entry, leased, err := client.Lease(ctx, types.WorkerID{ReplicaID: "r1", Slot: 0})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", entry.Token.Value)
	assert.Equal(t, types.StatusRunning, leased.Status)

	require.NoError(t, client.Refresh(ctx, "tok-1", leased.LeaseID))

	requested, err := client.AbortRequested(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, client.RequestAbort(ctx, "tok-1"))
	requested, err = client.AbortRequested(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, client.Complete(ctx, "tok-1", leased.LeaseID, &types.Report{Token: "tok-1"}))
	info, err = client.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, info.Status)
}
