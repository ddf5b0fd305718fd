package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/pkg/schema"
)

const greetYAML = `
name: greet
start: hello
input:
  name: ada
tasks:
  - name: hello
    action: expr.eval
    params:
      expression: '"hello " + context.name'
`

// setup points the CLI at a temporary home and returns its directory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKFLOW_HOME", dir)
	t.Setenv("TASKFLOW_DB_PATH", filepath.Join(dir, "taskflow.db"))
	t.Setenv("TASKFLOW_LOG_LEVEL", "error")
	t.Setenv("TASKFLOW_METRICS_ADDR", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndVersion(t *testing.T) {
	setup(t)

	code, _, stderr := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: taskflow")

	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "dev\n", stdout)

	code, _, stderr = runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)
}

func TestValidate(t *testing.T) {
	dir := setup(t)

	code, stdout, _ := runCLI(t, "validate", writeFile(t, dir, "greet.yaml", greetYAML))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "ok (1 tasks)")

	broken := strings.Replace(greetYAML, "start: hello", "start: missing", 1)
	code, stdout, _ = runCLI(t, "validate", writeFile(t, dir, "broken.yaml", broken))
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "error")

	code, _, _ = runCLI(t, "validate")
	assert.Equal(t, 2, code)
}

func TestRun_NoStore(t *testing.T) {
	dir := setup(t)
	path := writeFile(t, dir, "greet.yaml", greetYAML)

	code, stdout, stderr := runCLI(t, "run", "-no-store", "-input", `{"name": "grace"}`, path)
	require.Equal(t, 0, code, stderr)

	var res runner.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, schema.RunStatusCompleted, res.Report.Status)
	assert.Equal(t, "hello grace", res.Report.Data["hello"])

	_, err := os.Stat(filepath.Join(dir, "taskflow.db"))
	assert.True(t, os.IsNotExist(err), "no database without a store")
}

func TestRun_Stream(t *testing.T) {
	dir := setup(t)
	path := writeFile(t, dir, "greet.yaml", greetYAML)

	code, _, stderr := runCLI(t, "run", "-no-store", "-stream", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, `"type":"run_started"`)
	assert.Contains(t, stderr, `"type":"run_completed"`)
}

func TestRun_Errors(t *testing.T) {
	dir := setup(t)
	path := writeFile(t, dir, "greet.yaml", greetYAML)

	code, _, _ := runCLI(t, "run")
	assert.Equal(t, 2, code)

	code, _, stderr := runCLI(t, "run", "-no-store", "-input", "{}", "-input-file", "x.json", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "mutually exclusive")

	code, _, stderr = runCLI(t, "run", "-no-store", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestRunThenHistory(t *testing.T) {
	dir := setup(t)
	path := writeFile(t, dir, "greet.yaml", greetYAML)

	code, stdout, stderr := runCLI(t, "run", path)
	require.Equal(t, 0, code, stderr)
	var res runner.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))

	code, stdout, _ = runCLI(t, "history")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "WORKFLOW")
	assert.Contains(t, stdout, res.RunID)
	assert.Contains(t, stdout, "completed")

	code, stdout, _ = runCLI(t, "history", "-run", res.RunID)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "workflow: greet")
	assert.Contains(t, stdout, "run_started")
	assert.Contains(t, stdout, "task_completed")

	code, stdout, _ = runCLI(t, "history", "-json", "-workflow", "other")
	require.Equal(t, 0, code)
	assert.Equal(t, "null\n", stdout)

	code, _, stderr = runCLI(t, "history", "-run", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestGraph(t *testing.T) {
	dir := setup(t)
	path := writeFile(t, dir, "greet.yaml", greetYAML)

	code, stdout, stderr := runCLI(t, "graph", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "=== greet ===")
	assert.Contains(t, stdout, "Start ─→ hello")

	out := filepath.Join(dir, "greet.mmd")
	code, _, stderr = runCLI(t, "graph", "-format", "mermaid", "-o", out, path)
	require.Equal(t, 0, code, stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "__start__ --> hello")

	code, stdout, stderr = runCLI(t, "run", path)
	require.Equal(t, 0, code, stderr)
	var res runner.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))

	code, stdout, stderr = runCLI(t, "graph", "-run", res.RunID, path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "[OK]")

	code, _, stderr = runCLI(t, "graph", "-format", "gif", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown format")
}

func TestSecrets(t *testing.T) {
	dir := setup(t)

	code, _, stderr := runCLI(t, "secret", "set", "API_TOKEN", "t0ken")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "TASKFLOW_VAULT_KEY")

	t.Setenv("TASKFLOW_VAULT_KEY", "correct horse")
	code, _, stderr = runCLI(t, "secret", "set", "API_TOKEN", "t0ken")
	require.Equal(t, 0, code, stderr)
	_, err := os.Stat(filepath.Join(dir, "vault.salt"))
	require.NoError(t, err)

	code, stdout, _ := runCLI(t, "secret", "list")
	require.Equal(t, 0, code)
	assert.Equal(t, "API_TOKEN\n", stdout)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"auth": "` + r.Header.Get("Authorization") + `"}`))
	}))
	defer srv.Close()
	path := writeFile(t, dir, "auth.yaml", `
name: auth
start: fetch
tasks:
  - name: fetch
    action: http.get
    params:
      url: `+srv.URL+`
      headers: {Authorization: "Bearer ${{ secrets.API_TOKEN }}"}
`)
	code, stdout, stderr = runCLI(t, "run", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Bearer t0ken")

	code, _, _ = runCLI(t, "secret", "delete", "API_TOKEN")
	assert.Equal(t, 0, code)
	code, _, stderr = runCLI(t, "secret", "delete", "API_TOKEN")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")

	code, _, _ = runCLI(t, "secret", "rotate")
	assert.Equal(t, 2, code)
}

func TestScheduleOnce(t *testing.T) {
	dir := setup(t)
	writeFile(t, dir, "greet.yaml", greetYAML)
	jobs := writeFile(t, dir, "jobs.yaml", `
jobs:
  - id: greet-hourly
    cron: "@hourly"
    workflow: greet.yaml
    input: {name: linus}
  - id: paused
    cron: "@daily"
    workflow: greet.yaml
    disabled: true
`)

	code, stdout, stderr := runCLI(t, "schedule", "-once", jobs)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "job greet-hourly: ok\n", stdout)

	code, stdout, _ = runCLI(t, "history", "-workflow", "greet")
	require.Equal(t, 0, code)
	assert.Equal(t, 2, strings.Count(stdout, "\n"), "header plus one run")
}

func TestScheduleOnce_FailingJob(t *testing.T) {
	dir := setup(t)
	writeFile(t, dir, "fail.yaml", `
name: fail
start: boom
tasks:
  - name: boom
    action: jq
    params:
      filter: 'error("boom")'
`)
	jobs := writeFile(t, dir, "jobs.yaml", `
jobs:
  - id: boom
    cron: "@hourly"
    workflow: fail.yaml
`)

	code, _, stderr := runCLI(t, "schedule", "-once", jobs)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "job boom:")
}

func TestResearch_RequiresCredentials(t *testing.T) {
	setup(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TASKFLOW_SEARCH_URL", "")

	code, _, _ := runCLI(t, "research")
	assert.Equal(t, 2, code)

	code, _, stderr := runCLI(t, "research", "what", "is", "libsql")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "OPENAI_API_KEY")

	t.Setenv("OPENAI_API_KEY", "sk-test")
	code, _, stderr = runCLI(t, "research", "what is libsql")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "TASKFLOW_SEARCH_URL")
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()

	v, err := readInput("", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = readInput(`{"a": 1}`, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, v)

	v, err = readInput("", writeFile(t, dir, "in.yaml", "name: ada\ntags: [x, y]\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "tags": []any{"x", "y"}}, v)

	_, err = readInput("", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = readInput("{", "")
	assert.Error(t, err)
}

func TestExamplesValidate(t *testing.T) {
	setup(t)
	for _, name := range []string{"greet.yaml", "review.yaml"} {
		code, stdout, stderr := runCLI(t, "validate", filepath.Join("..", "..", "examples", name))
		assert.Equal(t, 0, code, name+": "+stdout+stderr)
	}
}
