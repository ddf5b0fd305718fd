package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/logging"
	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// --- Helpers ---

func greetDefinition() map[string]any {
	return map[string]any{
		"name":  "greet",
		"start": "hello",
		"input": map[string]any{"name": "ada"},
		"tasks": []any{
			map[string]any{
				"name":   "hello",
				"action": "expr.eval",
				"params": map[string]any{"expression": `"hello " + context.name`},
			},
		},
	}
}

func newTestServer(t *testing.T) (*TaskflowServer, store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "taskflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, flow.WithLogger(logging.Discard()))
	require.NoError(t, err)
	r := runner.New(c, runner.WithStore(st), runner.WithLogger(logging.Discard()))
	return NewTaskflowServer(ServerDeps{Runner: r, Logger: logging.Discard()}), st
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func runGreet(t *testing.T, s *TaskflowServer) runner.Result {
	t.Helper()
	result, err := s.handleRun(context.Background(), buildRequest("taskflow.run", map[string]any{
		"definition": greetDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var res runner.Result
	unmarshalResult(t, result, &res)
	return res
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	s, st := newTestServer(t)

	res := runGreet(t, s)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "greet", res.Workflow)
	require.NotNil(t, res.Report)
	assert.Equal(t, schema.RunStatusCompleted, res.Report.Status)
	assert.Equal(t, "hello ada", res.Report.Tasks["hello"].Output)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestRunToolWithInputAndAgent(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("taskflow.run", map[string]any{
		"definition": greetDefinition(),
		"input":      map[string]any{"name": "grace"},
		"agent_id":   "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var res runner.Result
	unmarshalResult(t, result, &res)
	assert.Equal(t, "hello grace", res.Report.Tasks["hello"].Output)

	// No MCP session in the context, so nothing is registered.
	_, ok := s.sessions.lookup("agent-1")
	assert.False(t, ok)
}

func TestRunToolFromPath(t *testing.T) {
	s, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "greet.json")
	data, err := json.Marshal(greetDefinition())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	result, err := s.handleRun(context.Background(), buildRequest("taskflow.run", map[string]any{"path": path}))
	require.NoError(t, err)
	assert.False(t, result.IsError, extractText(t, result))
}

func TestRunToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no definition", map[string]any{}, "one of definition or path is required"},
		{"bad definition", map[string]any{"definition": map[string]any{"tasks": "nope"}}, "invalid definition"},
		{"unknown start", map[string]any{"definition": map[string]any{
			"start": "missing",
			"tasks": []any{map[string]any{"name": "a", "action": "expr.eval", "params": map[string]any{"expression": "1"}}},
		}}, "workflow run failed"},
		{"missing file", map[string]any{"path": filepath.Join(t.TempDir(), "nope.yaml")}, "workflow run failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleRun(context.Background(), buildRequest("taskflow.run", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tc.want)
		})
	}
}

func TestRunToolWithoutRunner(t *testing.T) {
	s := NewTaskflowServer(ServerDeps{})
	result, err := s.handleRun(context.Background(), buildRequest("taskflow.run", map[string]any{"definition": greetDefinition()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleValidate(context.Background(), buildRequest("taskflow.validate", map[string]any{
		"definition": greetDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)

	bad := greetDefinition()
	bad["start"] = "missing"
	result, err = s.handleValidate(context.Background(), buildRequest("taskflow.validate", map[string]any{"definition": bad}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Errors)

	result, err = s.handleValidate(context.Background(), buildRequest("taskflow.validate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, _ := newTestServer(t)
	res := runGreet(t, s)

	result, err := s.handleStatus(context.Background(), buildRequest("taskflow.status", map[string]any{
		"run_id": res.RunID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Run    store.Run      `json:"run"`
		Events []*store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, res.RunID, out.Run.ID)
	require.NotEmpty(t, out.Events)
	assert.Equal(t, schema.EventRunStarted, out.Events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, out.Events[len(out.Events)-1].Type)

	result, err = s.handleStatus(context.Background(), buildRequest("taskflow.status", map[string]any{
		"run_id": res.RunID,
		"since":  float64(len(out.Events) - 1),
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Events, 1)
}

func TestStatusToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("taskflow.status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleStatus(context.Background(), buildRequest("taskflow.status", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")

	noStore := NewTaskflowServer(ServerDeps{})
	result, err = noStore.handleStatus(context.Background(), buildRequest("taskflow.status", map[string]any{"run_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryRuns(t *testing.T) {
	s, _ := newTestServer(t)
	first := runGreet(t, s)
	second := runGreet(t, s)

	result, err := s.handleQuery(context.Background(), buildRequest("taskflow.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"workflow": "greet", "status": "completed"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Runs []store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Runs, 2)
	assert.ElementsMatch(t, []string{first.RunID, second.RunID}, []string{out.Runs[0].ID, out.Runs[1].ID})

	result, err = s.handleQuery(context.Background(), buildRequest("taskflow.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"limit": "1"},
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Runs, 1)
}

func TestQueryEvents(t *testing.T) {
	s, _ := newTestServer(t)
	res := runGreet(t, s)

	var out struct {
		Events []store.Event `json:"events"`
	}

	result, err := s.handleQuery(context.Background(), buildRequest("taskflow.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"event_type": schema.EventTaskCompleted},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "hello", out.Events[0].Task)

	result, err = s.handleQuery(context.Background(), buildRequest("taskflow.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": res.RunID},
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, int64(1), out.Events[0].Sequence)
}

func TestQueryErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing resource", map[string]any{}},
		{"unknown resource", map[string]any{"resource": "templates"}},
		{"events without filter", map[string]any{"resource": "events"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleQuery(context.Background(), buildRequest("taskflow.query", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestDiagramTool(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleDiagram(context.Background(), buildRequest("taskflow.diagram", map[string]any{
		"definition": greetDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Contains(t, extractText(t, result), "=== greet ===")

	result, err = s.handleDiagram(context.Background(), buildRequest("taskflow.diagram", map[string]any{
		"definition": greetDefinition(),
		"format":     "mermaid",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "__start__ --> hello")
}

func TestDiagramToolWithRun(t *testing.T) {
	s, _ := newTestServer(t)
	res := runGreet(t, s)

	result, err := s.handleDiagram(context.Background(), buildRequest("taskflow.diagram", map[string]any{
		"definition": greetDefinition(),
		"run_id":     res.RunID,
		"format":     "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Contains(t, extractText(t, result), "class hello completed")
}

func TestDiagramToolImage(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleDiagram(context.Background(), buildRequest("taskflow.diagram", map[string]any{
		"definition": greetDefinition(),
		"format":     "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 2)
	img, ok := result.Content[1].(mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.NotEmpty(t, img.Data)
}

func TestDiagramToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no definition", map[string]any{}, "one of definition or path is required"},
		{"bad format", map[string]any{"definition": greetDefinition(), "format": "pdf"}, "format must be"},
		{"unknown run", map[string]any{"definition": greetDefinition(), "run_id": "nope"}, "run lookup failed"},
		{"missing file", map[string]any{"path": "/nonexistent/flow.yaml"}, "flow.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleDiagram(context.Background(), buildRequest("taskflow.diagram", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tt.want)
		})
	}
}

func TestExtractInt(t *testing.T) {
	filter := map[string]any{"f": float64(3), "i": 4, "s": "5", "bad": "x"}
	assert.Equal(t, 3, extractInt(filter, "f", 0))
	assert.Equal(t, 4, extractInt(filter, "i", 0))
	assert.Equal(t, 5, extractInt(filter, "s", 0))
	assert.Equal(t, 9, extractInt(filter, "bad", 9))
	assert.Equal(t, 9, extractInt(nil, "f", 9))
}

func TestExtractTime(t *testing.T) {
	ts := extractTime(map[string]any{"since": "2026-01-02T03:04:05Z"}, "since")
	require.NotNil(t, ts)
	assert.Equal(t, 2026, ts.Year())
	assert.Nil(t, extractTime(map[string]any{"since": "yesterday"}, "since"))
	assert.Nil(t, extractTime(nil, "since"))
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
