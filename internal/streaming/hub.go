package streaming

import (
	"context"
	"time"
)

// Sources of stream events.
const (
	SourceEngine = "engine"
	SourceEvents = "events"
)

// EventEmitted is the type of stream events mirroring Event Store emits.
const EventEmitted = "event_emitted"

// StreamEvent is a real-time event of a workflow run: an engine lifecycle
// transition or a value emitted on the run's Event Store.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Task      string    `json:"task,omitempty"`
	Key       string    `json:"key,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	RunID  string   `json:"run_id,omitempty"`
	Source string   `json:"source,omitempty"`
	Types  []string `json:"types,omitempty"`
	Keys   []string `json:"keys,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
