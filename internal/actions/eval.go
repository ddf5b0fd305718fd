package actions

import (
	"context"
	"encoding/json"

	"github.com/trendy-design/taskflow/internal/expressions"
)

// EvalActions returns the expression-backed actions: expr.eval and jq.
func EvalActions(set *expressions.Set) []Action {
	return []Action{
		&exprEvalAction{engine: set.Expr},
		&jqAction{engine: set.JQ},
	}
}

// withData returns vars with "data" replaced by the normalized override.
func withData(vars map[string]any, params map[string]any, key string) (map[string]any, error) {
	override, ok := params[key]
	if !ok {
		if vars == nil {
			return map[string]any{}, nil
		}
		return vars, nil
	}
	data, err := expressions.Normalize(override)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["data"] = data
	return out, nil
}

// --- expr.eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an Expr expression against the task scope or explicit data",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"expression": {"type": "string"}, "data": {}},
  "required": ["expression"]
}`),
	}
}

func (a *exprEvalAction) Validate(params map[string]any) error {
	if err := requireString("expr.eval", params, "expression"); err != nil {
		return err
	}
	expr := params["expression"].(string)
	if pending(expr) {
		return nil
	}
	return a.engine.Compile(expr)
}

func (a *exprEvalAction) Execute(ctx context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	vars, err := withData(input.Vars, input.Params, "data")
	if err != nil {
		return nil, err
	}
	return a.engine.Evaluate(ctx, input.Params["expression"].(string), vars)
}

// --- jq ---

type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Transform the routed data (or an explicit input) with a jq filter",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "filter": {"type": "string"},
    "input": {},
    "all": {"type": "boolean", "default": false}
  },
  "required": ["filter"]
}`),
	}
}

func (a *jqAction) Validate(params map[string]any) error {
	if err := requireString("jq", params, "filter"); err != nil {
		return err
	}
	filter := params["filter"].(string)
	if pending(filter) {
		return nil
	}
	return a.engine.Compile(filter)
}

func (a *jqAction) Execute(ctx context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	vars, err := withData(input.Vars, input.Params, "input")
	if err != nil {
		return nil, err
	}
	filter := input.Params["filter"].(string)
	if boolParam(input.Params, "all", false) {
		return a.engine.EvaluateAll(ctx, filter, vars)
	}
	return a.engine.Evaluate(ctx, filter, vars)
}
