package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// eventRecorder collects lifecycle events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *eventRecorder) OnEvent(_ context.Context, ev LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) emit(ctx context.Context, ev LifecycleEvent) { r.OnEvent(ctx, ev) }

func (r *eventRecorder) Events() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LifecycleEvent(nil), r.events...)
}

func (r *eventRecorder) Types(task string) []string {
	var out []string
	for _, ev := range r.Events() {
		if task == "" || ev.Task == task {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *eventRecorder) Count(typ string) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestTaskFSM_Lifecycle(t *testing.T) {
	rec := &eventRecorder{}
	fsm := NewTaskFSM(rec.emit)
	ctx := context.Background()

	assert.Equal(t, schema.TaskStatusPending, fsm.State("join"))

	require.NoError(t, fsm.Transition(ctx, "join", schema.TaskStatusWaiting, LifecycleEvent{}))
	require.NoError(t, fsm.Transition(ctx, "join", schema.TaskStatusWaiting, LifecycleEvent{}))
	require.NoError(t, fsm.Transition(ctx, "join", schema.TaskStatusRunning, LifecycleEvent{}))
	require.NoError(t, fsm.Transition(ctx, "join", schema.TaskStatusCompleted, LifecycleEvent{Attempt: 1}))

	assert.Equal(t, schema.TaskStatusCompleted, fsm.State("join"))
	assert.Equal(t, []string{
		schema.EventTaskWaiting,
		schema.EventTaskWaiting,
		schema.EventTaskStarted,
		schema.EventTaskCompleted,
	}, rec.Types("join"))

	last := rec.Events()[3]
	assert.Equal(t, schema.TaskStatusCompleted, last.Status)
	assert.Equal(t, 1, last.Attempt)
}

func TestTaskFSM_ReentryAfterTerminalStates(t *testing.T) {
	fsm := NewTaskFSM(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, fsm.Transition(ctx, "loop", schema.TaskStatusRunning, LifecycleEvent{}))
		require.NoError(t, fsm.Transition(ctx, "loop", schema.TaskStatusCompleted, LifecycleEvent{}))
	}
	require.NoError(t, fsm.Transition(ctx, "loop", schema.TaskStatusRunning, LifecycleEvent{}))
	require.NoError(t, fsm.Transition(ctx, "loop", schema.TaskStatusFailed, LifecycleEvent{}))
	require.NoError(t, fsm.Transition(ctx, "loop", schema.TaskStatusRunning, LifecycleEvent{}))
}

func TestTaskFSM_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []schema.TaskStatus
	}{
		{"pending to completed", []schema.TaskStatus{schema.TaskStatusCompleted}},
		{"pending to failed", []schema.TaskStatus{schema.TaskStatusFailed}},
		{"waiting to completed", []schema.TaskStatus{schema.TaskStatusWaiting, schema.TaskStatusCompleted}},
		{"running to running", []schema.TaskStatus{schema.TaskStatusRunning, schema.TaskStatusRunning}},
		{"running to waiting", []schema.TaskStatus{schema.TaskStatusRunning, schema.TaskStatusWaiting}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &eventRecorder{}
			fsm := NewTaskFSM(rec.emit)
			ctx := context.Background()

			var err error
			for _, to := range tt.path {
				err = fsm.Transition(ctx, "t", to, LifecycleEvent{})
			}
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
			assert.Len(t, rec.Events(), len(tt.path)-1, "rejected transitions emit nothing")
		})
	}
}

func TestTaskFSM_ConcurrentTasks(t *testing.T) {
	fsm := NewTaskFSM(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fsm.Transition(ctx, name, schema.TaskStatusRunning, LifecycleEvent{})
			_ = fsm.Transition(ctx, name, schema.TaskStatusCompleted, LifecycleEvent{})
		}()
	}
	wg.Wait()

	states := fsm.States()
	assert.Len(t, states, 6)
	for name, s := range states {
		assert.Equal(t, schema.TaskStatusCompleted, s, name)
	}
}
