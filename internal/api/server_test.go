package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/logging"
	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
	"github.com/trendy-design/taskflow/pkg/schema"
)

const greetDefinition = `{
  "name": "greet",
  "start": "hello",
  "input": {"name": "ada"},
  "tasks": [
    {"name": "hello", "action": "expr.eval", "params": {"expression": "\"hello \" + context.name"}}
  ]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "taskflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := streaming.NewMemoryHub()
	c, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, flow.WithLogger(logging.Discard()))
	require.NoError(t, err)
	r := runner.New(c, runner.WithStore(st), runner.WithHub(hub), runner.WithLogger(logging.Discard()))

	srv := httptest.NewServer(NewServer(Deps{Runner: r, Hub: hub, Logger: logging.Discard()}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func runGreet(t *testing.T, srv *httptest.Server) runner.Result {
	t.Helper()
	resp := post(t, srv, "/api/runs", `{"definition": `+greetDefinition+`, "input": {"name": "grace"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res runner.Result
	decode(t, resp, &res)
	return res
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunAndJournal(t *testing.T) {
	srv := newTestServer(t)
	res := runGreet(t, srv)

	assert.Equal(t, "greet", res.Workflow)
	assert.Equal(t, schema.RunStatusCompleted, res.Report.Status)
	assert.Equal(t, "hello grace", res.Report.Data["hello"])

	resp := get(t, srv, "/api/runs?workflow=greet")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Runs  []*store.Run `json:"runs"`
		Total int          `json:"total"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, res.RunID, list.Runs[0].ID)

	resp = get(t, srv, "/api/runs/"+res.RunID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		Run    *store.Run     `json:"run"`
		Events []*store.Event `json:"events"`
	}
	decode(t, resp, &detail)
	assert.Equal(t, schema.RunStatusCompleted, detail.Run.Status)
	require.NotEmpty(t, detail.Events)
	assert.Equal(t, schema.EventRunStarted, detail.Events[0].Type)

	resp = get(t, srv, "/api/events?type="+schema.EventTaskCompleted+"&run_id="+res.RunID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events struct {
		Events []*store.Event `json:"events"`
	}
	decode(t, resp, &events)
	require.Len(t, events.Events, 1)
	assert.Equal(t, "hello", events.Events[0].Task)
}

func TestDeleteRun(t *testing.T) {
	srv := newTestServer(t)
	res := runGreet(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/runs/"+res.RunID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/runs/"+res.RunID).StatusCode)
}

func TestRunErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown field", `{"workflow": {}}`, http.StatusBadRequest},
		{"no definition", `{}`, http.StatusBadRequest},
		{"invalid definition", `{"definition": {"start": "missing", "tasks": [{"name": "a", "action": "log"}]}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, "/api/runs", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]any
			decode(t, resp, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestValidate(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/validate", greetDefinition)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Valid  bool              `json:"valid"`
		Errors []json.RawMessage `json:"errors"`
	}
	decode(t, resp, &result)
	assert.True(t, result.Valid)

	resp = post(t, srv, "/api/validate", `{"start": "missing", "tasks": []}`)
	decode(t, resp, &result)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestDiagram(t *testing.T) {
	srv := newTestServer(t)
	res := runGreet(t, srv)

	resp := post(t, srv, "/api/diagram", `{"definition": `+greetDefinition+`, "format": "mermaid", "run_id": "`+res.RunID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "class hello completed")
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	resp = post(t, srv, "/api/diagram", `{"definition": `+greetDefinition+`, "format": "svg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))

	resp = post(t, srv, "/api/diagram", `{"definition": `+greetDefinition+`, "format": "gif"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "/api/diagram", `{"definition": `+greetDefinition+`, "run_id": "nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWithoutStore(t *testing.T) {
	c, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, flow.WithLogger(logging.Discard()))
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(Deps{Runner: runner.New(c), Logger: logging.Discard()}).Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/api/runs").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/sse/events").StatusCode)
	assert.Equal(t, http.StatusOK, post(t, srv, "/api/runs", `{"definition": `+greetDefinition+`}`).StatusCode)
}

func TestSSE(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/events?types="+schema.EventRunCompleted, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	res := runGreet(t, srv)

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: "+schema.EventRunCompleted, lines[0])

	var ev streaming.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, res.RunID, ev.RunID)
	assert.Equal(t, streaming.SourceEngine, ev.Source)
}

func TestListenAndServe(t *testing.T) {
	s := NewServer(Deps{Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x&since=2026-01-02T03:04:05Z&types=a,%20b,,c", nil)
	assert.Equal(t, 5, queryInt(r, "limit", 50))
	assert.Equal(t, 50, queryInt(r, "bad", 50))
	assert.Equal(t, 50, queryInt(r, "missing", 50))
	require.NotNil(t, queryTime(r, "since"))
	assert.Nil(t, queryTime(r, "bad"))
	assert.Equal(t, []string{"a", "b", "c"}, queryList(r, "types"))
}
