package mcp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/pkg/schema"
)

func TestAgentSessions(t *testing.T) {
	a := newAgentSessions()

	a.bind("agent-1", "s1")
	a.bind("agent-2", "s1")
	a.bind("agent-3", "s2")
	a.bind("agent-3", "s3")

	sid, ok := a.lookup("agent-3")
	require.True(t, ok)
	assert.Equal(t, "s3", sid, "rebinding replaces the session")

	a.drop("s1")
	_, ok = a.lookup("agent-1")
	assert.False(t, ok)
	_, ok = a.lookup("agent-2")
	assert.False(t, ok)
	_, ok = a.lookup("agent-3")
	assert.True(t, ok)
}

func TestRunNotification(t *testing.T) {
	res := &runner.Result{
		RunID:    "run-1",
		Workflow: "greet",
		Report: &engine.RunReport{
			Status:   schema.RunStatusCompleted,
			Duration: 1500 * time.Millisecond,
		},
	}
	n := runNotification(res)
	assert.Equal(t, "info", n["level"])
	assert.Equal(t, "taskflow", n["logger"])
	data := n["data"].(map[string]any)
	assert.Equal(t, "run-1", data["run_id"])
	assert.Equal(t, int64(1500), data["duration_ms"])
	assert.NotContains(t, data, "failed_tasks")

	res.Report.Failures = []*engine.TaskResult{{Task: "fetch", Err: errors.New("boom")}}
	n = runNotification(res)
	assert.Equal(t, "warning", n["level"])
	assert.Equal(t, []string{"fetch"}, n["data"].(map[string]any)["failed_tasks"])
}

func TestSessionSink(t *testing.T) {
	s := NewTaskflowServer(ServerDeps{})
	res := &runner.Result{RunID: "run-1", Report: &engine.RunReport{Status: schema.RunStatusCompleted}}

	assert.NoError(t, s.notifier.runFinished("nobody", res))

	s.sessions.bind("agent-1", "gone")
	assert.NoError(t, s.notifier.runFinished("agent-1", res))
	_, ok := s.sessions.lookup("agent-1")
	assert.False(t, ok, "a closed session is forgotten")
}
