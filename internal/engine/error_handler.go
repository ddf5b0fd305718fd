package engine

import (
	"context"
	"log/slog"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// handleTaskError applies the task's on-error policy to an exhausted
// failure and returns the targets to continue with. Without a policy the
// branch stops.
//
//	ignore:   the task counts as completed with a nil result and routes on.
//	fallback: the fallback task runs with the failed task's input.
//	abort:    the workflow is aborted (hard).
func (e *Engine) handleTaskError(ctx context.Context, t Task, data any, res *TaskResult) []Target {
	policy := t.OnError
	if policy == nil || e.exec.Halted() {
		return nil
	}

	fields := map[string]any{
		"strategy": string(policy.Strategy),
		"error":    res.Err.Error(),
	}

	switch policy.Strategy {
	case schema.ErrorStrategyIgnore:
		res.Handled = schema.ErrorStrategyIgnore
		e.emit(ctx, LifecycleEvent{Type: schema.EventTaskIgnored, Task: t.Name, Data: fields})
		e.logger.InfoContext(ctx, "task failure ignored")
		e.exec.MarkTaskComplete(t.Name, nil)
		if e.exec.Halted() {
			return nil
		}
		return e.next(ctx, t, data, nil)

	case schema.ErrorStrategyFallback:
		res.Handled = schema.ErrorStrategyFallback
		fields["fallback"] = policy.Fallback
		e.emit(ctx, LifecycleEvent{Type: schema.EventTaskFallback, Task: t.Name, Data: fields})
		e.logger.InfoContext(ctx, "dispatching fallback task", slog.String("fallback", policy.Fallback))
		return []Target{To(policy.Fallback, data)}

	case schema.ErrorStrategyAbort:
		res.Handled = schema.ErrorStrategyAbort
		e.logger.WarnContext(ctx, "task failure aborts workflow")
		e.Abort(false)
		return nil

	default:
		e.logger.WarnContext(ctx, "unknown on-error strategy", slog.String("strategy", string(policy.Strategy)))
		return nil
	}
}
