package engine

import (
	"maps"
	"sync"
)

// ExecutionContext is the per-run scheduling state: which tasks completed,
// which are running, the latest result of each task, how often each task
// ran and whether the run was aborted. Only the Engine mutates it.
type ExecutionContext struct {
	mu        sync.Mutex
	completed map[string]bool
	running   map[string]bool
	data      map[string]any
	counts    map[string]int

	aborted  bool
	graceful bool
	done     chan struct{}

	// onExecution is told about every recorded completion.
	onExecution func(task string, count int)
}

// NewExecutionContext creates empty scheduling state.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		data:      make(map[string]any),
		counts:    make(map[string]int),
		done:      make(chan struct{}),
	}
}

// MarkTaskComplete records a successful execution of task. It does nothing
// after a hard abort except release the running slot.
func (x *ExecutionContext) MarkTaskComplete(task string, data any) {
	x.mu.Lock()
	if x.aborted && !x.graceful {
		delete(x.running, task)
		x.mu.Unlock()
		return
	}
	x.counts[task]++
	count := x.counts[task]
	x.completed[task] = true
	delete(x.running, task)
	x.data[task] = data
	notify := x.onExecution
	x.mu.Unlock()

	if notify != nil {
		notify(task, count)
	}
}

// ResetTaskCompletion forgets that task completed so it can run again.
func (x *ExecutionContext) ResetTaskCompletion(task string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.completed, task)
}

// IsTaskComplete reports whether task completed and was not reset since.
func (x *ExecutionContext) IsTaskComplete(task string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.completed[task]
}

// IsTaskRunning reports whether task is executing right now.
func (x *ExecutionContext) IsTaskRunning(task string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.running[task]
}

// GetTaskData returns the most recent result of task.
func (x *ExecutionContext) GetTaskData(task string) (any, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	v, ok := x.data[task]
	return v, ok
}

// GetTaskExecutionCount returns how many times task completed.
func (x *ExecutionContext) GetTaskExecutionCount(task string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.counts[task]
}

// TaskExecutionCounts returns a copy of every task's completion count.
func (x *ExecutionContext) TaskExecutionCounts() map[string]int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return maps.Clone(x.counts)
}

// HasReachedMaxRuns reports whether task completed at least maxRuns times.
func (x *ExecutionContext) HasReachedMaxRuns(task string, maxRuns int) bool {
	return x.GetTaskExecutionCount(task) >= maxRuns
}

// AbortWorkflow stops the run. A hard abort (graceful false) prevents every
// further dispatch and closes Done. A graceful abort lets in-flight chains
// keep routing but starts no new fan-out branches. A hard abort always wins
// over an earlier or later graceful one.
func (x *ExecutionContext) AbortWorkflow(graceful bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	wasHard := x.aborted && !x.graceful
	x.aborted = true
	x.graceful = graceful && !wasHard
	if !x.graceful && !wasHard {
		close(x.done)
	}
}

// Aborted returns the abort flags.
func (x *ExecutionContext) Aborted() (aborted, graceful bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.aborted, x.graceful
}

// Halted reports a hard abort.
func (x *ExecutionContext) Halted() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.aborted && !x.graceful
}

// Done is closed by a hard abort.
func (x *ExecutionContext) Done() <-chan struct{} {
	return x.done
}

// tryStart claims the running slot for task, resetting an earlier
// completion so loops can re-enter. It fails if task is already running.
func (x *ExecutionContext) tryStart(task string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.running[task] {
		return false
	}
	delete(x.completed, task)
	x.running[task] = true
	return true
}

// release frees the running slot of a task that did not complete.
func (x *ExecutionContext) release(task string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.running, task)
}

// unmet returns the dependencies of a task that have not completed.
func (x *ExecutionContext) unmet(deps []string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []string
	for _, d := range deps {
		if !x.completed[d] {
			out = append(out, d)
		}
	}
	return out
}

func (x *ExecutionContext) snapshot() (completed map[string]bool, data map[string]any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return maps.Clone(x.completed), maps.Clone(x.data)
}
