package store

import (
	"encoding/json"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Run is one recorded workflow execution.
type Run struct {
	ID          string           `json:"id"`
	Workflow    string           `json:"workflow"`
	Status      schema.RunStatus `json:"status"`
	StartTask   string           `json:"start_task,omitempty"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Report      json.RawMessage  `json:"report,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RunUpdate holds the fields set when a run finishes.
type RunUpdate struct {
	Status      schema.RunStatus
	Report      json.RawMessage
	Error       string
	CompletedAt time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Workflow string
	Status   schema.RunStatus
	Since    *time.Time
	Limit    int
	Offset   int
}

// Event is one journaled lifecycle event. Sequence is assigned on append
// and increases monotonically within a run.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"type"`
	Task      string          `json:"task,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Status    string          `json:"status,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	RunID string
	Task  string
	Since *time.Time
	Limit int
}
