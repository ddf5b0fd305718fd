package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// StateActions returns the actions writing shared run state.
func StateActions() []Action {
	return []Action{
		&contextSetAction{},
		&eventEmitAction{},
	}
}

// --- context.set ---

type contextSetAction struct{}

func (a *contextSetAction) Name() string { return "context.set" }

func (a *contextSetAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Write keys of the shared Context; values are validated by the context schema",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "values": {"type": "object"},
    "key": {"type": "string"},
    "value": {}
  },
  "oneOf": [{"required": ["values"]}, {"required": ["key"]}]
}`),
	}
}

func (a *contextSetAction) Validate(params map[string]any) error {
	_, hasValues := params["values"]
	_, hasKey := params["key"]
	switch {
	case hasValues && hasKey:
		return schema.NewError(schema.ErrCodeValidation, "context.set: use either 'values' or 'key', not both")
	case hasValues:
		if _, ok := mapParam(params, "values"); !ok && !pending(params["values"]) {
			return schema.NewError(schema.ErrCodeValidation, "context.set: 'values' must be an object")
		}
	case hasKey:
		return requireString("context.set", params, "key")
	default:
		return schema.NewError(schema.ErrCodeValidation, "context.set: missing required param 'values' or 'key'")
	}
	return nil
}

// Execute merges the values into the Context. Rejected keys fail the task;
// accepted ones stay written. The record is the result.
func (a *contextSetAction) Execute(_ context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	if input.Context == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "context.set: no context attached to the run")
	}

	values, ok := mapParam(input.Params, "values")
	if !ok {
		if _, hasValues := input.Params["values"]; hasValues {
			return nil, schema.NewError(schema.ErrCodeValidation, "context.set: 'values' must be an object")
		}
		values = map[string]any{stringParam(input.Params, "key", ""): input.Params["value"]}
	}
	if err := input.Context.Merge(values); err != nil {
		return nil, err
	}
	input.logger().Debug("context updated", slog.Int("keys", len(values)))
	return values, nil
}

// --- event.emit ---

type eventEmitAction struct{}

func (a *eventEmitAction) Name() string { return "event.emit" }

func (a *eventEmitAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Emit a value on the Event Store; merge folds an object into the key's current state",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": {"type": "string"},
    "value": {},
    "merge": {"type": "boolean", "default": false}
  },
  "required": ["key"]
}`),
	}
}

func (a *eventEmitAction) Validate(params map[string]any) error {
	if err := requireString("event.emit", params, "key"); err != nil {
		return err
	}
	if boolParam(params, "merge", false) {
		if _, ok := mapParam(params, "value"); !ok && !pending(params["value"]) {
			return schema.NewError(schema.ErrCodeValidation, "event.emit: merge requires an object 'value'")
		}
	}
	return nil
}

func (a *eventEmitAction) Execute(_ context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	if input.Events == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "event.emit: no event store attached to the run")
	}

	key := input.Params["key"].(string)
	value := input.Params["value"]

	if !boolParam(input.Params, "merge", false) {
		if err := input.Events.Emit(key, value); err != nil {
			return nil, err
		}
		return value, nil
	}

	patch, ok := value.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "event.emit: merge requires an object 'value'")
	}
	err := input.Events.Update(key, func(current any) any {
		merged := make(map[string]any, len(patch))
		if cur, ok := current.(map[string]any); ok {
			for k, v := range cur {
				merged[k] = v
			}
		}
		for k, v := range patch {
			merged[k] = v
		}
		return merged
	})
	if err != nil {
		return nil, err
	}
	out, _ := input.Events.Get(key)
	return out, nil
}
