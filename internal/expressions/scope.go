package expressions

import (
	"encoding/json"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Scope is everything an expression of a declarative task can see:
//
//	task      name of the running task
//	run_id    ID of the run
//	data      what the task was routed with
//	result    output of the task (routes only)
//	context   the shared Context
//	events    the current Event Store state
//	config    the run configuration
//	runs      completion count per task
type Scope struct {
	Task    string
	RunID   string
	Data    any
	Result  any
	Context map[string]any
	Events  map[string]any
	Config  map[string]any
	Runs    map[string]int
}

// scopeVars lists the top-level variable names in a fixed order.
var scopeVars = []string{"task", "run_id", "data", "result", "context", "events", "config", "runs"}

// Vars renders the scope as expression variables. Values are normalized
// through JSON so every engine sees the same plain maps, slices, strings,
// float64 numbers and bools regardless of the Go types stored.
func (s Scope) Vars() (map[string]any, error) {
	runs := make(map[string]any, len(s.Runs))
	for k, v := range s.Runs {
		runs[k] = v
	}
	raw := map[string]any{
		"task":    s.Task,
		"run_id":  s.RunID,
		"data":    s.Data,
		"result":  s.Result,
		"context": orEmpty(s.Context),
		"events":  orEmpty(s.Events),
		"config":  orEmpty(s.Config),
		"runs":    runs,
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "scope of task %q is not JSON-serializable: %s", s.Task, err.Error()).
			WithTask(s.Task).WithCause(err)
	}
	var vars map[string]any
	if err := json.Unmarshal(b, &vars); err != nil {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "decode scope").WithTask(s.Task).WithCause(err)
	}
	return vars, nil
}

// Normalize converts v to its JSON shape.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
