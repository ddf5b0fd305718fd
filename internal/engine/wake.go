package engine

import (
	"sort"
	"sync"
)

// wakeup is the fan-in countdown used when auto-wake is enabled. Each
// task with dependencies holds the set of dependencies still to complete;
// the completion that empties the set dispatches the task.
type wakeup struct {
	mu      sync.Mutex
	deps    map[string][]string
	pending map[string]map[string]bool
	parked  map[string]any
}

func newWakeup() *wakeup {
	return &wakeup{
		deps:    make(map[string][]string),
		pending: make(map[string]map[string]bool),
		parked:  make(map[string]any),
	}
}

// register arms the countdown of a task over all of its dependencies.
func (w *wakeup) register(task string, deps []string) {
	if len(deps) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deps[task] = deps
	w.armLocked(task, deps)
}

// rearm starts a new countdown over all dependencies, after the task ran.
func (w *wakeup) rearm(task string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if deps, ok := w.deps[task]; ok {
		w.armLocked(task, deps)
	}
}

// park keeps the data a blocked task was routed with and narrows its
// countdown to the dependencies still unmet.
func (w *wakeup) park(task string, data any, unmet []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.deps[task]; !ok {
		return
	}
	w.parked[task] = data
	w.armLocked(task, unmet)
}

// disarm cancels the countdown of a task that is starting.
func (w *wakeup) disarm(task string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, task)
	delete(w.parked, task)
}

// complete removes dep from every countdown and returns, sorted, the tasks
// whose countdown reached zero together with their parked data.
func (w *wakeup) complete(dep string) (tasks []string, parked map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	parked = make(map[string]any)
	for task, unmet := range w.pending {
		if !unmet[dep] {
			continue
		}
		delete(unmet, dep)
		if len(unmet) > 0 {
			continue
		}
		delete(w.pending, task)
		tasks = append(tasks, task)
		if d, ok := w.parked[task]; ok {
			parked[task] = d
			delete(w.parked, task)
		}
	}
	sort.Strings(tasks)
	return tasks, parked
}

func (w *wakeup) armLocked(task string, deps []string) {
	set := make(map[string]bool, len(deps))
	for _, d := range deps {
		set[d] = true
	}
	w.pending[task] = set
}
