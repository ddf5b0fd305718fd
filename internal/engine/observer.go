package engine

import (
	"context"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// LifecycleEvent describes one scheduler transition of a run.
type LifecycleEvent struct {
	RunID     string            `json:"run_id"`
	Type      string            `json:"type"`
	Task      string            `json:"task,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Status    schema.TaskStatus `json:"status,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Error     string            `json:"error,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Observer receives lifecycle events. OnEvent is called synchronously from
// the dispatching goroutine and may be called concurrently; implementations
// must not block.
type Observer interface {
	OnEvent(ctx context.Context, ev LifecycleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev LifecycleEvent)

func (f ObserverFunc) OnEvent(ctx context.Context, ev LifecycleEvent) { f(ctx, ev) }

func (e *Engine) emit(ctx context.Context, ev LifecycleEvent) {
	if len(e.observers) == 0 {
		return
	}
	ev.RunID = e.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, o := range e.observers {
		o.OnEvent(ctx, ev)
	}
}
