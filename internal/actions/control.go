package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// ControlActions returns the flow-control actions: wait, fail and log.
func ControlActions() []Action {
	return []Action{
		&waitAction{},
		&failAction{},
		&logAction{},
	}
}

// --- wait ---

type waitAction struct{}

func (a *waitAction) Name() string { return "wait" }

func (a *waitAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Sleep for a duration, then pass the routed data through",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"duration": {"type": ["string", "number"]}},
  "required": ["duration"]
}`),
	}
}

func (a *waitAction) Validate(params map[string]any) error {
	if _, ok := params["duration"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "wait: missing required param 'duration'")
	}
	if pending(params["duration"]) {
		return nil
	}
	d, err := durationParam(params, "duration", 0)
	if err != nil {
		return err
	}
	if d < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "wait: negative duration %s", d)
	}
	return nil
}

func (a *waitAction) Execute(ctx context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	d, _ := durationParam(input.Params, "duration", 0)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return input.Data, nil
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "wait cancelled").WithCause(ctx.Err())
	}
}

// --- fail ---

type failAction struct{}

func (a *failAction) Name() string { return "fail" }

func (a *failAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Fail the task with a message; retryable selects whether retries apply",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "retryable": {"type": "boolean", "default": false},
    "details": {"type": "object"}
  },
  "required": ["message"]
}`),
	}
}

func (a *failAction) Validate(params map[string]any) error {
	return requireString("fail", params, "message")
}

func (a *failAction) Execute(_ context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	code := schema.ErrCodeNonRetryable
	if boolParam(input.Params, "retryable", false) {
		code = schema.ErrCodeExecution
	}
	err := schema.NewError(code, input.Params["message"].(string)).WithTask(input.Task)
	if details, ok := mapParam(input.Params, "details"); ok {
		err = err.WithDetails(details)
	}
	return nil, err
}

// --- log ---

type logAction struct{}

func (a *logAction) Name() string { return "log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Write a structured log record and pass the routed data through",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["debug", "info", "warn", "error"], "default": "info"},
    "fields": {"type": "object"}
  },
  "required": ["message"]
}`),
	}
}

func (a *logAction) Validate(params map[string]any) error {
	if err := requireString("log", params, "message"); err != nil {
		return err
	}
	switch strings.ToLower(stringParam(params, "level", "info")) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "log: unknown level %q", params["level"])
	}
}

func (a *logAction) Execute(ctx context.Context, input ActionInput) (any, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	var level slog.Level
	_ = level.UnmarshalText([]byte(stringParam(input.Params, "level", "info")))

	fields, _ := mapParam(input.Params, "fields")
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	input.logger().LogAttrs(ctx, level, input.Params["message"].(string), attrs...)
	return input.Data, nil
}
