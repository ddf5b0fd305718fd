package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/trendy-design/taskflow/internal/state"
)

// Action is the executable body of a declarative task.
type Action interface {
	Name() string
	Schema() ActionSchema
	// Validate checks params before interpolation placeholders are resolved,
	// so it must tolerate "${{ ... }}" strings wherever a value is expected.
	Validate(params map[string]any) error
	Execute(ctx context.Context, input ActionInput) (any, error)
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(acts ...Action) error
	Get(name string) (Action, error)
	Has(name string) bool
}

var _ ActionRegistry = (*Registry)(nil)

// ActionSchema describes the input/output contract of an action.
type ActionSchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActionInput is what an action receives for one task attempt.
type ActionInput struct {
	Task string
	// Params are the task params with every placeholder resolved.
	Params map[string]any
	// Data is the value routed into the task.
	Data any
	// Vars is the normalized expression scope of the attempt.
	Vars map[string]any

	Context *state.Context
	Events  *state.Events
	Logger  *slog.Logger
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (in ActionInput) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}
