package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/logging"
	"github.com/trendy-design/taskflow/internal/metrics"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
	"github.com/trendy-design/taskflow/pkg/schema"
)

const greetWorkflow = `
name: greet
start: hello
input:
  name: ada
tasks:
  - name: hello
    action: event.emit
    params:
      key: greeting
      value: "hello ${{ context.name }}"
    route: {to: done}
  - name: done
    action: expr.eval
    params:
      expression: 'context.name + "!"'
`

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	c, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, flow.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return New(c, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func writeWorkflow(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunner_RunFile(t *testing.T) {
	res, err := newRunner(t).RunFile(context.Background(), writeWorkflow(t, greetWorkflow), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "greet", res.Workflow)
	assert.Equal(t, schema.RunStatusCompleted, res.Report.Status)
	assert.Equal(t, "ada!", res.Report.Data["done"])
}

func TestRunner_AttachesJournalMetricsAndHub(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	collector := metrics.NewCollector(nil)
	hub := streaming.NewMemoryHub(streaming.WithBuffer(256))
	emits, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{Source: streaming.SourceEvents})
	require.NoError(t, err)
	defer cancel()

	r := newRunner(t, WithStore(s), WithMetrics(collector), WithHub(hub))
	res, err := r.RunFile(ctx, writeWorkflow(t, greetWorkflow), map[string]any{"name": "grace"})
	require.NoError(t, err)
	assert.Equal(t, "grace!", res.Report.Data["done"])

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "greet", run.Workflow)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.JSONEq(t, `{"name":"grace"}`, string(run.Input))
	assert.NotEmpty(t, run.Report)

	series, err := testutil.GatherAndCount(collector.Registry(), "taskflow_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)

	got := <-emits
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, "greeting", got.Key)
	assert.Equal(t, "hello grace", got.Payload)
}

func TestRunner_CompileError(t *testing.T) {
	src := `
name: broken
start: missing
tasks:
  - name: only
    action: log
    params: {message: hi}
`
	_, err := newRunner(t).RunFile(context.Background(), writeWorkflow(t, src), nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestRunner_MissingFile(t *testing.T) {
	_, err := newRunner(t).RunFile(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestRunner_CircuitBreakersSpanRuns(t *testing.T) {
	breakers := engine.NewCircuitBreakerRegistry(engine.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	r := newRunner(t, WithCircuitBreakers(breakers))

	flaky, err := flow.Parse([]byte(`
name: flaky
start: call
tasks:
  - name: call
    action: fail
    params: {message: "upstream down"}
`), "yaml")
	require.NoError(t, err)
	healthy, err := flow.Parse([]byte(`
name: healthy
start: call
tasks:
  - name: call
    action: expr.eval
    params: {expression: '"ok"'}
`), "yaml")
	require.NoError(t, err)

	for range 2 {
		res, err := r.Run(context.Background(), flaky, nil)
		require.NoError(t, err)
		require.Len(t, res.Report.Failures, 1)
		assert.False(t, schema.HasCode(res.Report.Failures[0].Err, schema.ErrCodeCircuitOpen))
	}

	res, err := r.Run(context.Background(), flaky, nil)
	require.NoError(t, err)
	require.Len(t, res.Report.Failures, 1)
	assert.True(t, schema.HasCode(res.Report.Failures[0].Err, schema.ErrCodeCircuitOpen))
	assert.Zero(t, res.Report.Failures[0].Attempts, "the open circuit rejects before the action runs")

	res, err = r.Run(context.Background(), healthy, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, res.Report.Status, "breakers are scoped per workflow")
	assert.Equal(t, engine.CircuitOpen, breakers.Scope("flaky").State("call"))
}
