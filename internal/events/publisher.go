package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task events
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskFinished  EventType = "task.finished"
	EventTaskCanceled  EventType = "task.canceled"
	EventTaskDiscarded EventType = "task.discarded"

	// Worker events
	EventWorkerReady   EventType = "worker.ready"
	EventWorkerExited  EventType = "worker.exited"
	EventWorkerRetired EventType = "worker.retired"
)

// Event represents a system event
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// TaskEventData creates event data for task events
func TaskEventData(uuid, taskName string, extra map[string]any) map[string]any {
	data := map[string]any{
		"uuid": uuid,
		"task": taskName,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData creates event data for worker events
func WorkerEventData(workerID int, status string, extra map[string]any) map[string]any {
	data := map[string]any{
		"worker_id": workerID,
		"status":    status,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
