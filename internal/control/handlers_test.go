package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/pool"
	"github.com/art-tapin/dispatcher-fork/internal/pool/pooltest"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

func newTestServer(t *testing.T) (*Server, *pool.Pool) {
	t.Helper()

	cfg := &config.Config{
		Server:  config.ServerConfig{RateLimitRPS: 0},
		Metrics: config.MetricsConfig{Enabled: false},
	}

	p := pool.NewPool(&config.PoolConfig{
		MinWorkers:        1,
		MaxWorkers:        2,
		ScaledownWait:     time.Minute,
		ScaledownInterval: 20 * time.Millisecond,
		WorkerStopWait:    time.Second,
		WorkerRemovalWait: time.Minute,
		ShutdownTimeout:   2 * time.Second,
	}, pooltest.NewRuntime())
	p.StartWorking(&sync.Mutex{}, pool.NewLatch())
	t.Cleanup(p.Shutdown)

	submit := func(ctx context.Context, msg *task.Message) error {
		p.Dispatch(msg)
		return nil
	}

	return NewServer(cfg, p, submit, nil), p
}

func waitReady(t *testing.T, p *pool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, p.Events().WorkersReady.Wait(ctx))
}

func TestHandlers_Alive(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/alive", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, s.NodeID(), body["node_id"])
}

func TestHandlers_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_SubmitAndIntrospect(t *testing.T) {
	s, p := newTestServer(t)
	waitReady(t, p)

	body, _ := json.Marshal(SubmitRequest{
		Task:    "sleep",
		Kwargs:  map[string]any{"duration": 5.0},
		UUID:    "find_me",
		Timeout: 30,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "find_me", resp["uuid"])

	// The running view shows the task
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/running", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var running struct {
			NodeID  string            `json:"node_id"`
			Running []pool.WorkerInfo `json:"running"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &running))
		if len(running.Running) == 1 {
			assert.Equal(t, "find_me", running.Running[0].CurrentTaskUUID)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never showed up as running")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Pool snapshot accounts for it
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/pool", nil))
	var snap pool.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Busy)
	assert.Equal(t, 1, snap.Received)
}

func TestHandlers_SubmitValidation(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_CancelTask(t *testing.T) {
	s, p := newTestServer(t)
	waitReady(t, p)

	p.Dispatch(&task.Message{UUID: "victim", Task: "sleep", Kwargs: map[string]any{"duration": 30.0}})

	deadline := time.Now().Add(2 * time.Second)
	for p.RunningCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/victim/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Canceled []string `json:"canceled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"victim"}, resp.Canceled)

	// Unknown uuid is a 404
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/ghost/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Workers(t *testing.T) {
	s, p := newTestServer(t)
	waitReady(t, p)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Workers []pool.WorkerInfo `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Workers, 1)
	assert.Equal(t, "ready", resp.Workers[0].Status)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/workers/0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/workers/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/workers/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_APIKey(t *testing.T) {
	cfg := &config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKeys: []string{"sekrit"}},
	}

	p := pool.NewPool(&config.PoolConfig{MinWorkers: 0, MaxWorkers: 1, ScaledownInterval: time.Second, ShutdownTimeout: time.Second}, pooltest.NewRuntime())
	s := NewServer(cfg, p, func(ctx context.Context, msg *task.Message) error { return nil }, nil)

	// Without credentials
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/alive", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With the right key
	req := httptest.NewRequest(http.MethodGet, "/admin/alive", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// With a wrong key
	req = httptest.NewRequest(http.MethodGet, "/admin/alive", nil)
	req.Header.Set("X-API-Key", "nope")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
