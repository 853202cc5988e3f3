package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/pool"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// PoolAPI is the read-mostly surface the control plane needs from the pool.
// Cancel is the only mutation it may perform.
type PoolAPI interface {
	Snapshot() pool.Snapshot
	WorkersData() []pool.WorkerInfo
	RunningTasks() []pool.WorkerInfo
	CancelTask(uuid string) []string
	ShuttingDown() bool
}

// SubmitFunc routes an accepted message toward the pool. Producers decide
// what to do with delayed messages; the pool only sees ready-to-run ones.
type SubmitFunc func(ctx context.Context, msg *task.Message) error

// Handlers serves the control-plane endpoints.
type Handlers struct {
	nodeID string
	pool   PoolAPI
	submit SubmitFunc
}

func NewHandlers(nodeID string, p PoolAPI, submit SubmitFunc) *Handlers {
	return &Handlers{nodeID: nodeID, pool: p, submit: submit}
}

// Alive answers the control-plane liveness probe.
func (h *Handlers) Alive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"node_id": h.nodeID})
}

// GetPool returns the full pool snapshot.
func (h *Handlers) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Snapshot())
}

// ListWorkers returns the introspection payload of every tracked worker.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": h.nodeID,
		"workers": h.pool.WorkersData(),
	})
}

// GetWorker returns one worker by id.
func (h *Handlers) GetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "workerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid worker id")
		return
	}
	for _, info := range h.pool.WorkersData() {
		if info.WorkerID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "worker not found")
}

// Running returns the busy workers and their task uuids.
func (h *Handlers) Running(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": h.nodeID,
		"running": h.pool.RunningTasks(),
	})
}

// CancelTask cancels a task by uuid wherever it currently is.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskUUID := chi.URLParam(r, "taskUUID")
	acted := h.pool.CancelTask(taskUUID)
	if len(acted) == 0 {
		writeError(w, http.StatusNotFound, "no task with that uuid")
		return
	}
	logger.Info().Str("uuid", taskUUID).Msg("control-plane cancel accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":  h.nodeID,
		"canceled": acted,
	})
}

// SubmitRequest is the HTTP task-submission body.
type SubmitRequest struct {
	UUID        string         `json:"uuid,omitempty"`
	Task        string         `json:"task"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	Timeout     float64        `json:"timeout,omitempty"`
	OnDuplicate string         `json:"on_duplicate,omitempty"`
	Delay       float64        `json:"delay,omitempty"`
}

// SubmitTask accepts a task message over HTTP.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	if h.pool.ShuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "dispatcher is shutting down")
		return
	}

	msg := &task.Message{
		UUID:        req.UUID,
		Task:        req.Task,
		Args:        req.Args,
		Kwargs:      req.Kwargs,
		Timeout:     req.Timeout,
		OnDuplicate: req.OnDuplicate,
		Delay:       req.Delay,
	}
	if msg.UUID == "" {
		msg.UUID = uuid.New().String()
	}

	if err := h.submit(r.Context(), msg); err != nil {
		logger.Error().Err(err).Str("uuid", msg.UUID).Msg("task submission failed")
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"uuid": msg.UUID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
