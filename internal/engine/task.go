package engine

import (
	"context"
	"time"

	"github.com/trendy-design/taskflow/internal/state"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Config is the open configuration bag handed unchanged to every task.
type Config struct {
	MaxIterations int
	TimeoutMs     int
	Values        map[string]any
}

// Get returns a consumer-defined value.
func (c Config) Get(key string) (any, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Map renders the config the way expressions see it.
func (c Config) Map() map[string]any {
	m := make(map[string]any, len(c.Values)+2)
	for k, v := range c.Values {
		m[k] = v
	}
	m["maxIterations"] = c.MaxIterations
	m["timeoutMs"] = c.TimeoutMs
	return m
}

// Params is what a task's execute function receives.
type Params struct {
	// Task is the name of the running task.
	Task string
	// Data is what the predecessor routed in, or the start payload.
	Data    any
	RunID   string
	Attempt int

	Exec    *ExecutionContext
	Context *state.Context
	Events  *state.Events
	Config  Config

	abort func(graceful bool)
}

// Abort stops the workflow from inside a task.
func (p Params) Abort(graceful bool) {
	if p.abort != nil {
		p.abort(graceful)
	}
}

// RouteParams is what a route function receives: the execute params plus
// the result of the successful attempt.
type RouteParams struct {
	Params
	Result any
}

// ExecuteFunc is the unit of work of a task. It should return promptly
// once ctx is done.
type ExecuteFunc func(ctx context.Context, p Params) (any, error)

// ErrorPolicy selects what happens after a task exhausts its attempts.
type ErrorPolicy struct {
	Strategy schema.ErrorStrategy
	// Fallback is the task dispatched, with the failed task's input, under
	// the fallback strategy.
	Fallback string
}

// Task is an immutable task definition.
type Task struct {
	Name    string
	Execute ExecuteFunc
	// Route defaults to ending the branch.
	Route RouteFunc
	// Dependencies must all be complete before the task may run.
	Dependencies []string
	// RetryCount is the number of extra attempts after the first.
	RetryCount int
	// Timeout bounds each attempt; zero means no limit.
	Timeout time.Duration
	// Backoff overrides the engine's retry backoff.
	Backoff *Backoff
	OnError *ErrorPolicy
}

// TaskResult is the outcome of one ExecuteTask call for one task.
type TaskResult struct {
	Task     string            `json:"task"`
	Status   schema.TaskStatus `json:"status"`
	Output   any               `json:"output,omitempty"`
	Err      error             `json:"-"`
	Attempts int               `json:"attempts"`
	// Skipped is set when the task was not dispatched at all.
	Skipped bool `json:"skipped,omitempty"`
	// Handled names the on-error strategy applied to a failure.
	Handled  schema.ErrorStrategy `json:"handled,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// OK reports a completed task.
func (r *TaskResult) OK() bool {
	return r != nil && r.Status == schema.TaskStatusCompleted && !r.Skipped
}

func (t Task) validate() error {
	if t.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "task name is required")
	}
	if t.Name == schema.RouteEnd {
		return schema.NewErrorf(schema.ErrCodeValidation, "task name %q is reserved", schema.RouteEnd)
	}
	if t.Execute == nil {
		return schema.NewError(schema.ErrCodeValidation, "execute function is required").WithTask(t.Name)
	}
	if t.RetryCount < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "retry count %d is negative", t.RetryCount).WithTask(t.Name)
	}
	for _, d := range t.Dependencies {
		if d == t.Name {
			return schema.NewError(schema.ErrCodeCycleDetected, "task depends on itself").WithTask(t.Name)
		}
	}
	if t.OnError != nil && t.OnError.Strategy == schema.ErrorStrategyFallback && t.OnError.Fallback == "" {
		return schema.NewError(schema.ErrCodeValidation, "fallback strategy requires a fallback task").WithTask(t.Name)
	}
	return nil
}
