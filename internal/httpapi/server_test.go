package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/habitsync/internal/connectivity"
	"github.com/roach88/habitsync/internal/delivery"
	"github.com/roach88/habitsync/internal/engine"
	"github.com/roach88/habitsync/internal/metrics"
	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/store"
	"github.com/roach88/habitsync/internal/testutil"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	store     *store.Store
	engine    *engine.Engine
	deliverer *testutil.ScriptedDeliverer
	server    *httptest.Server
}

func newAPIFixture(t *testing.T, ids ...string) *apiFixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sched := testutil.NewFakeScheduler(epoch)
	d := testutil.NewScriptedDeliverer(sched)
	reg := prometheus.NewRegistry()

	e, err := engine.New(s, d,
		engine.WithScheduler(sched),
		engine.WithIDGenerator(mutation.NewFixedGenerator(ids...)),
		engine.WithMetrics(metrics.NewPrometheus(reg)),
		engine.WithDrainOnEnqueue(false),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	obs := connectivity.NewObserver(true)
	obs.OnChange(e.SetOnline)

	srv := httptest.NewServer(NewServer(e, Options{
		Lookup:       s,
		Connectivity: obs,
		Gatherer:     reg,
	}).Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{store: s, engine: e, deliverer: d, server: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestEnqueueAndList(t *testing.T) {
	f := newAPIFixture(t, "m1", "m2")

	code, body := f.do(t, http.MethodPost, "/v1/queue",
		`{"target":"/habits/1/log","body":{"count":2},"priority":"low","kind":"reminder_log"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "m1", body["id"])
	assert.Equal(t, `{"count":2}`, body["body"])
	assert.Equal(t, "POST", body["method"])

	code, _ = f.do(t, http.MethodPost, "/v1/queue", `{"target":"/habits/2/log","priority":"high"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = f.do(t, http.MethodGet, "/v1/queue", "")
	require.Equal(t, http.StatusOK, code)
	list := body["mutations"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].(map[string]any)["id"], "listed in drain order")

	code, body = f.do(t, http.MethodGet, "/v1/queue?kind=Reminder_Log", "")
	require.Equal(t, http.StatusOK, code)
	list = body["mutations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].(map[string]any)["id"])

	code, body = f.do(t, http.MethodGet, "/v1/queue?priority=high", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["mutations"].([]any), 1)
}

func TestEnqueue_Invalid(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/v1/queue", `{"target":"/x","priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_mutation", body["code"])

	code, _ = f.do(t, http.MethodPost, "/v1/queue", `{"priority":"high"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/v1/queue", `{"target":"/x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEnqueue_StoreFailure(t *testing.T) {
	f := newAPIFixture(t, "m1")
	require.NoError(t, f.store.Close())

	code, body := f.do(t, http.MethodPost, "/v1/queue", `{"target":"/habits/1/log"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "storage_error", body["code"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid priority", fmt.Errorf("request: %w", mutation.ErrInvalidPriority), http.StatusBadRequest, "invalid_mutation"},
		{"shutdown", engine.ErrShutdown, http.StatusServiceUnavailable, "shutting_down"},
		{"storage", &store.StorageError{Op: "enqueue", ID: "m1", Err: errors.New("disk full")}, http.StatusInternalServerError, "storage_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestListQueue_BadFilters(t *testing.T) {
	f := newAPIFixture(t)

	code, _ := f.do(t, http.MethodGet, "/v1/queue?priority=urgent", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/v1/queue?priority=high&kind=general", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/v1/queue?before=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDrainAndClear(t *testing.T) {
	f := newAPIFixture(t, "m1", "m2", "m3")
	f.deliverer.AlwaysFail("m3")
	for _, target := range []string{"/a", "/b", "/c"} {
		code, _ := f.do(t, http.MethodPost, "/v1/queue", `{"target":"`+target+`"}`)
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := f.do(t, http.MethodPost, "/v1/drain", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["started"])
	status := body["status"].(map[string]any)
	assert.Equal(t, float64(1), status["queued_count"])
	assert.NotNil(t, status["last_sync_time"])

	code, body = f.do(t, http.MethodDelete, "/v1/queue", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["removed"])

	code, body = f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["queued_count"])
}

func TestConnectivity(t *testing.T) {
	f := newAPIFixture(t, "m1")
	ctx := context.Background()

	code, body := f.do(t, http.MethodPut, "/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, false, body["status"].(map[string]any)["is_online"])

	_, err := f.engine.Enqueue(ctx, mutation.Request{Target: "/a"})
	require.NoError(t, err)
	code, body = f.do(t, http.MethodPost, "/v1/drain", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["started"], "no drain while offline")

	code, body = f.do(t, http.MethodPut, "/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["changed"])

	code, body = f.do(t, http.MethodPut, "/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["status"].(map[string]any)["queued_count"], "coming online drains")

	code, _ = f.do(t, http.MethodPut, "/v1/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, "m1")
	code, _ := f.do(t, http.MethodPost, "/v1/queue", `{"target":"/a","kind":"counter_update"}`)
	require.Equal(t, http.StatusCreated, code)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), `habitsync_mutations_enqueued_total{kind="counter_update"} 1`)
	assert.Contains(t, string(data), "habitsync_queue_depth 1")
}

func TestStatusStream(t *testing.T) {
	f := newAPIFixture(t, "m1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http")+"/v1/status/stream", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	var st engine.Status
	require.NoError(t, wsjson.Read(ctx, c, &st))
	assert.Zero(t, st.QueuedCount)
	assert.True(t, st.Online)

	_, err = f.engine.Enqueue(ctx, mutation.Request{Target: "/a"})
	require.NoError(t, err)

	require.NoError(t, wsjson.Read(ctx, c, &st))
	assert.Equal(t, 1, st.QueuedCount)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := http.Post(f.server.URL+"/health", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	code, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestDrainOutlivesRequestContext(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := delivery.DeliverFunc(func(ctx context.Context, m mutation.QueuedMutation) error {
		return ctx.Err()
	})
	e, err := engine.New(s, d,
		engine.WithScheduler(testutil.NewFakeScheduler(epoch)),
		engine.WithIDGenerator(mutation.NewFixedGenerator("m1")),
		engine.WithDrainOnEnqueue(false),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	_, err = e.Enqueue(context.Background(), mutation.Request{Target: "/habits/1/log"})
	require.NoError(t, err)

	// The client has already gone away when the handler runs.
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/drain", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	NewServer(e, Options{}).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "drain ran on the engine's context and delivered")
}
