// Package client is a small Go client for the dispatcher control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client talks to one dispatcher node.
type Client struct {
	baseURL string
	opts    *options
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}
}

// TaskSubmission is the body of a task submission.
type TaskSubmission struct {
	UUID        string         `json:"uuid,omitempty"`
	Task        string         `json:"task"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	Timeout     float64        `json:"timeout,omitempty"`
	OnDuplicate string         `json:"on_duplicate,omitempty"`
	Delay       float64        `json:"delay,omitempty"`
}

// WorkerInfo mirrors the control API's per-worker payload.
type WorkerInfo struct {
	WorkerID        int     `json:"worker_id"`
	Pid             int     `json:"pid"`
	Status          string  `json:"status"`
	FinishedCount   int     `json:"finished_count"`
	CurrentTask     string  `json:"current_task,omitempty"`
	CurrentTaskUUID string  `json:"current_task_uuid,omitempty"`
	ActiveCancel    bool    `json:"active_cancel"`
	Age             float64 `json:"age"`
}

// PoolStatus mirrors the control API's pool snapshot.
type PoolStatus struct {
	MinWorkers   int          `json:"min_workers"`
	MaxWorkers   int          `json:"max_workers"`
	ShuttingDown bool         `json:"shutting_down"`
	Finished     int          `json:"finished_count"`
	Canceled     int          `json:"canceled_count"`
	Discarded    int          `json:"discard_count"`
	Queued       int          `json:"queued_count"`
	Blocked      int          `json:"blocked_count"`
	Busy         int          `json:"busy_count"`
	Processed    int          `json:"processed_count"`
	Received     int          `json:"received_count"`
	Workers      []WorkerInfo `json:"workers"`
}

// Submit sends a task message and returns its uuid.
func (c *Client) Submit(ctx context.Context, submission TaskSubmission) (string, error) {
	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", submission, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.UUID, nil
}

// Alive probes the control plane and returns the node id.
func (c *Client) Alive(ctx context.Context) (string, error) {
	var resp struct {
		NodeID string `json:"node_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/alive", nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.NodeID, nil
}

// PoolStatus fetches the pool snapshot.
func (c *Client) PoolStatus(ctx context.Context) (*PoolStatus, error) {
	var status PoolStatus
	if err := c.do(ctx, http.MethodGet, "/admin/pool", nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Running lists busy workers and the uuids they are executing.
func (c *Client) Running(ctx context.Context) ([]WorkerInfo, error) {
	var resp struct {
		Running []WorkerInfo `json:"running"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/running", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Running, nil
}

// Workers lists every tracked worker.
func (c *Client) Workers(ctx context.Context) ([]WorkerInfo, error) {
	var resp struct {
		Workers []WorkerInfo `json:"workers"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/workers", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// Cancel cancels a task by uuid wherever it is.
func (c *Client) Cancel(ctx context.Context, uuid string) ([]string, error) {
	var resp struct {
		Canceled []string `json:"canceled"`
	}
	path := fmt.Sprintf("/admin/tasks/%s/cancel", uuid)
	if err := c.do(ctx, http.MethodPost, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Canceled, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
