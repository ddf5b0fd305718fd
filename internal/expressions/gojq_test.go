package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQ_TransformsData(t *testing.T) {
	e := NewGoJQEngine()
	v := vars(t, Scope{Data: map[string]any{
		"results": []any{
			map[string]any{"title": "Go", "score": 3},
			map[string]any{"title": "Rust", "score": 1},
		},
	}})

	out, err := e.Evaluate(context.Background(), `[.results[] | select(.score > 2) | .title]`, v)
	require.NoError(t, err)
	assert.Equal(t, []any{"Go"}, out)
}

func TestGoJQ_ScopeVariables(t *testing.T) {
	e := NewGoJQEngine()
	v := vars(t, Scope{
		Task:    "summarize",
		Context: map[string]any{"topic": "agents"},
		Runs:    map[string]int{"search": 2},
	})

	out, err := e.Evaluate(context.Background(), `{task: $task, topic: $context.topic, searches: $runs.search}`, v)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"task": "summarize", "topic": "agents", "searches": 2.0}, out)
}

func TestGoJQ_MultipleAndEmptyOutputs(t *testing.T) {
	e := NewGoJQEngine()
	v := map[string]any{"data": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), `.[]`, v)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out)

	out, err = e.Evaluate(context.Background(), `empty`, v)
	require.NoError(t, err)
	assert.Nil(t, out)

	all, err := e.EvaluateAll(context.Background(), `.[0]`, v)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, all)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	err := e.Compile(".[")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = e.Compile("$undefined")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `error("bad row")`, map[string]any{"data": nil})
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestGoJQ_NoEnvironment(t *testing.T) {
	t.Setenv("TASKFLOW_SECRET", "s3cr3t")
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `$ENV.TASKFLOW_SECRET`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}
