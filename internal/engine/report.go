package engine

import (
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// RunReport summarizes a finished Start call.
type RunReport struct {
	RunID    string                       `json:"run_id"`
	Status   schema.RunStatus             `json:"status"`
	Duration time.Duration                `json:"duration"`
	Tasks    map[string]*TaskResult       `json:"tasks"`
	States   map[string]schema.TaskStatus `json:"states"`
	Counts   map[string]int               `json:"counts"`
	Failures []*TaskResult                `json:"failures,omitempty"`
	// Data holds the latest result of every completed task, keyed by name.
	Data map[string]any `json:"data,omitempty"`
}

// Completed reports whether task completed and was not reset since.
func (r *RunReport) Completed(task string) bool {
	_, ok := r.Data[task]
	return ok
}

func (e *Engine) report(started time.Time) *RunReport {
	completed, data := e.exec.snapshot()
	for task := range data {
		if !completed[task] {
			delete(data, task)
		}
	}

	e.rmu.Lock()
	tasks := make(map[string]*TaskResult, len(e.results))
	for k, v := range e.results {
		tasks[k] = v
	}
	failures := append([]*TaskResult(nil), e.failures...)
	e.rmu.Unlock()

	r := &RunReport{
		RunID:    e.runID,
		Status:   schema.RunStatusCompleted,
		Duration: time.Since(started),
		Tasks:    tasks,
		States:   e.fsm.States(),
		Counts:   e.exec.TaskExecutionCounts(),
		Failures: failures,
		Data:     data,
	}

	if aborted, _ := e.exec.Aborted(); aborted {
		r.Status = schema.RunStatusAborted
		return r
	}
	for _, f := range failures {
		if f.Handled != schema.ErrorStrategyIgnore && f.Handled != schema.ErrorStrategyFallback {
			r.Status = schema.RunStatusFailed
			break
		}
	}
	return r
}
