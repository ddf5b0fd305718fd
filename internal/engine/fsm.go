package engine

import (
	"context"
	"sync"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// ValidTaskTransitions lists the allowed task state changes within a run.
// completed and failed lead back to waiting or running when a route
// targets the task again.
var ValidTaskTransitions = map[schema.TaskStatus][]schema.TaskStatus{
	schema.TaskStatusPending:   {schema.TaskStatusWaiting, schema.TaskStatusRunning},
	schema.TaskStatusWaiting:   {schema.TaskStatusWaiting, schema.TaskStatusRunning},
	schema.TaskStatusRunning:   {schema.TaskStatusCompleted, schema.TaskStatusFailed},
	schema.TaskStatusCompleted: {schema.TaskStatusWaiting, schema.TaskStatusRunning},
	schema.TaskStatusFailed:    {schema.TaskStatusWaiting, schema.TaskStatusRunning},
}

// TaskFSM tracks the state of every task of one run and reports each
// transition as a lifecycle event.
type TaskFSM struct {
	mu     sync.Mutex
	states map[string]schema.TaskStatus
	emit   func(ctx context.Context, ev LifecycleEvent)
}

// NewTaskFSM creates a TaskFSM that reports transitions to emit (may be nil).
func NewTaskFSM(emit func(ctx context.Context, ev LifecycleEvent)) *TaskFSM {
	return &TaskFSM{
		states: make(map[string]schema.TaskStatus),
		emit:   emit,
	}
}

// State returns the current state of task; unseen tasks are pending.
func (f *TaskFSM) State(task string) schema.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[task]; ok {
		return s
	}
	return schema.TaskStatusPending
}

// States returns a copy of every known task state.
func (f *TaskFSM) States() map[string]schema.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]schema.TaskStatus, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out
}

// Transition moves task to the target state and emits the matching event.
// ev carries extra event fields; Type, Task and Status are filled in.
func (f *TaskFSM) Transition(ctx context.Context, task string, to schema.TaskStatus, ev LifecycleEvent) error {
	f.mu.Lock()
	from, ok := f.states[task]
	if !ok {
		from = schema.TaskStatusPending
	}
	if !isValidTaskTransition(from, to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", from, to).
			WithTask(task).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.states[task] = to
	f.mu.Unlock()

	if f.emit != nil {
		ev.Type = taskEventType(to)
		ev.Task = task
		ev.Status = to
		f.emit(ctx, ev)
	}
	return nil
}

func isValidTaskTransition(from, to schema.TaskStatus) bool {
	for _, a := range ValidTaskTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func taskEventType(to schema.TaskStatus) string {
	switch to {
	case schema.TaskStatusWaiting:
		return schema.EventTaskWaiting
	case schema.TaskStatusRunning:
		return schema.EventTaskStarted
	case schema.TaskStatusCompleted:
		return schema.EventTaskCompleted
	case schema.TaskStatusFailed:
		return schema.EventTaskFailed
	default:
		return ""
	}
}
