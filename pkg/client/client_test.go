package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// route registers h for one method and path. The module's go directive
// selects the ServeMux that does not parse method-prefixed patterns, so the
// method is checked here.
func route(mux *http.ServeMux, method, path string, h http.HandlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	route(mux, http.MethodPost, "/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		var body TaskSubmission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Task == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "task is required"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"uuid": "generated-uuid"})
	})

	route(mux, http.MethodGet, "/admin/alive", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"node_id": "dispatcher-abc"})
	})

	route(mux, http.MethodGet, "/admin/pool", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PoolStatus{MinWorkers: 1, MaxWorkers: 4, Finished: 7, Received: 7})
	})

	route(mux, http.MethodGet, "/admin/running", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"node_id": "dispatcher-abc",
			"running": []WorkerInfo{{WorkerID: 0, Status: "ready", CurrentTaskUUID: "u1"}},
		})
	})

	route(mux, http.MethodPost, "/admin/tasks/u1/cancel", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"canceled": []string{"u1"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Submit(t *testing.T) {
	srv := newStubServer(t)
	c := New(srv.URL)

	uuid, err := c.Submit(context.Background(), TaskSubmission{Task: "sleep"})
	require.NoError(t, err)
	assert.Equal(t, "generated-uuid", uuid)
}

func TestClient_SubmitError(t *testing.T) {
	srv := newStubServer(t)
	c := New(srv.URL)

	_, err := c.Submit(context.Background(), TaskSubmission{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task is required")
}

func TestClient_Alive(t *testing.T) {
	srv := newStubServer(t)
	c := New(srv.URL)

	nodeID, err := c.Alive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-abc", nodeID)
}

func TestClient_PoolStatus(t *testing.T) {
	srv := newStubServer(t)
	c := New(srv.URL)

	status, err := c.PoolStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, status.Finished)
	assert.Equal(t, 4, status.MaxWorkers)
}

func TestClient_RunningAndCancel(t *testing.T) {
	srv := newStubServer(t)
	c := New(srv.URL)

	running, err := c.Running(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "u1", running[0].CurrentTaskUUID)

	canceled, err := c.Cancel(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, canceled)
}

func TestClient_APIKeyHeader(t *testing.T) {
	seen := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(map[string]string{"node_id": "n"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithAPIKey("sekrit"))
	_, err := c.Alive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sekrit", seen)
}
