package task

import (
	"encoding/json"
	"time"
)

// OnDuplicate selects the duplicate-suppression policy applied at dispatch
// when another message with the same identity is already running or queued.
type OnDuplicate int

const (
	Parallel OnDuplicate = iota // run regardless of duplicates (default)
	Serial                      // queue behind a running duplicate
	QueueOne                    // keep at most one duplicate waiting
	Discard                     // drop if a duplicate is running or waiting
)

func (p OnDuplicate) String() string {
	switch p {
	case Parallel:
		return "parallel"
	case Serial:
		return "serial"
	case QueueOne:
		return "queue_one"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// ParseOnDuplicate maps the wire value to a policy. The second return is
// false for unrecognized values, which callers treat as Parallel.
func ParseOnDuplicate(s string) (OnDuplicate, bool) {
	switch s {
	case "", "parallel":
		return Parallel, true
	case "serial":
		return Serial, true
	case "queue_one":
		return QueueOne, true
	case "discard":
		return Discard, true
	default:
		return Parallel, false
	}
}

// Message is one task submission. The pool inspects only uuid, timeout,
// on_duplicate and the (task, args, kwargs) triple; everything else rides
// through to the worker opaquely.
type Message struct {
	UUID        string         `json:"uuid,omitempty"`
	Task        string         `json:"task"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	Timeout     float64        `json:"timeout,omitempty"` // seconds from dispatch
	OnDuplicate string         `json:"on_duplicate,omitempty"`
	Delay       float64        `json:"delay,omitempty"` // seconds, honored by producers
}

// HasTimeout reports whether the message carries a per-task timeout.
func (m *Message) HasTimeout() bool {
	return m.Timeout > 0
}

// TimeoutDuration converts the wire timeout to a duration.
func (m *Message) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout * float64(time.Second))
}

// LogUUID returns the uuid for log lines, never empty.
func (m *Message) LogUUID() string {
	if m.UUID == "" {
		return "<unknown>"
	}
	return m.UUID
}

// IdentityKey returns the canonical serialization of (task, args, kwargs)
// used for duplicate detection. encoding/json sorts map keys, so equal
// triples serialize identically.
func (m *Message) IdentityKey() string {
	key := struct {
		Task   string         `json:"task"`
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}{m.Task, m.Args, m.Kwargs}
	data, err := json.Marshal(key)
	if err != nil {
		// Unmarshalable args never come off the wire; fall back to the name.
		return m.Task
	}
	return string(data)
}

// ToJSON serializes the message for the worker inbound channel.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON deserializes a message from a broker payload.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
