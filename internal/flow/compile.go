// Package flow turns declarative workflow definitions into engine tasks.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/expressions"
	"github.com/trendy-design/taskflow/internal/secrets"
	"github.com/trendy-design/taskflow/internal/state"
	"github.com/trendy-design/taskflow/internal/validation"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Compiler validates definitions and compiles them into Workflows.
type Compiler struct {
	actions   *actions.Registry
	exprs     *expressions.Set
	validator *validation.WorkflowValidator
	secrets   secrets.Resolver
	logger    *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger handed to actions and route evaluation.
func WithLogger(l *slog.Logger) Option { return func(c *Compiler) { c.logger = l } }

// WithSecrets resolves ${{ secrets.KEY }} params through r.
func WithSecrets(r secrets.Resolver) Option { return func(c *Compiler) { c.secrets = r } }

// NewCompiler creates a Compiler resolving actions from reg.
func NewCompiler(reg *actions.Registry, exprs *expressions.Set, opts ...Option) (*Compiler, error) {
	wv, err := validation.NewWorkflowValidator(reg, validation.WithExpressionCompiler(exprs))
	if err != nil {
		return nil, err
	}
	c := &Compiler{actions: reg, exprs: exprs, validator: wv}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// NewDefaultCompiler creates a Compiler over the built-in actions.
func NewDefaultCompiler(httpCfg actions.HTTPConfig, opts ...Option) (*Compiler, error) {
	set, err := expressions.NewSet()
	if err != nil {
		return nil, err
	}
	reg, err := actions.NewBuiltinRegistry(set, httpCfg)
	if err != nil {
		return nil, err
	}
	return NewCompiler(reg, set, opts...)
}

// Actions returns the action registry.
func (c *Compiler) Actions() *actions.Registry { return c.actions }

// Validate runs the full validation pipeline without compiling.
func (c *Compiler) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := c.validator.Validate(def)
	if !result.Valid() {
		return result
	}
	for _, t := range def.Tasks {
		a, err := c.actions.Get(t.Action)
		if err != nil {
			continue
		}
		if err := a.Validate(paramsOrEmpty(t.Params)); err != nil {
			result.AddError(t.Name, "params", schema.ErrCodeValidation, err.Error())
		}
	}
	return result
}

// Compile validates def and builds its tasks. Validation warnings are kept
// on the returned Workflow.
func (c *Compiler) Compile(def *schema.WorkflowDefinition) (*Workflow, error) {
	result := c.Validate(def)
	if err := result.ToError(); err != nil {
		return nil, err
	}

	ctxSchema, evSchema, err := c.schemas(def)
	if err != nil {
		return nil, err
	}

	tasks := make([]engine.Task, 0, len(def.Tasks))
	for _, spec := range def.Tasks {
		t, err := c.task(spec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return &Workflow{
		Definition:    def,
		Warnings:      result.Warnings,
		Config:        configFrom(def.Config),
		tasks:         tasks,
		contextSchema: ctxSchema,
		eventsSchema:  evSchema,
		logger:        c.logger,
	}, nil
}

func (c *Compiler) task(spec schema.TaskSpec) (engine.Task, error) {
	action, err := c.actions.Get(spec.Action)
	if err != nil {
		return engine.Task{}, schema.NewErrorf(schema.ErrCodeActionUnavailable, "action %q not registered", spec.Action).
			WithTask(spec.Name).WithCause(err)
	}

	t := engine.Task{
		Name:         spec.Name,
		Dependencies: spec.Dependencies,
		Execute:      c.execute(spec, action),
		Route:        c.route(spec.Name, spec.Route),
	}

	if spec.Timeout != "" {
		t.Timeout, err = time.ParseDuration(spec.Timeout)
		if err != nil {
			return engine.Task{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q", spec.Timeout).
				WithTask(spec.Name).WithCause(err)
		}
	}
	if spec.Retry != nil {
		t.RetryCount = spec.Retry.Max
		t.Backoff, err = engine.BackoffFromPolicy(spec.Retry)
		if err != nil {
			return engine.Task{}, err
		}
	}
	if spec.OnError != nil {
		t.OnError = &engine.ErrorPolicy{Strategy: spec.OnError.Strategy, Fallback: spec.OnError.Fallback}
	}
	return t, nil
}

// execute resolves the task params against the attempt's scope and runs
// the action.
func (c *Compiler) execute(spec schema.TaskSpec, action actions.Action) engine.ExecuteFunc {
	raw := paramsOrEmpty(spec.Params)
	secretKeys := secrets.References(raw)
	return func(ctx context.Context, p engine.Params) (any, error) {
		vars, err := scopeOf(p, nil).Vars()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "build scope: %s", err.Error()).WithTask(p.Task).WithCause(err)
		}
		if len(secretKeys) > 0 {
			values, err := secrets.Lookup(ctx, c.secrets, secretKeys)
			if err != nil {
				return nil, err
			}
			vars["secrets"] = values
		}
		resolved, err := expressions.Interpolate(raw, vars)
		if err != nil {
			return nil, err
		}
		return action.Execute(ctx, actions.ActionInput{
			Task:    p.Task,
			Params:  resolved.(map[string]any),
			Data:    p.Data,
			Vars:    vars,
			Context: p.Context,
			Events:  p.Events,
			Logger:  c.logger.With(slog.String("action", spec.Action)),
		})
	}
}

// schemas compiles the declared key schemas. Keys used by the definition
// but not declared are opened up so a schema-less workflow still runs:
// input record keys and literal context.set keys for the Context, literal
// event.emit keys for the Event Store. Those keys accept any value.
func (c *Compiler) schemas(def *schema.WorkflowDefinition) (state.Schema, state.Schema, error) {
	jsv := c.validator.Schemas()

	ctxKeys, err := jsv.KeySchemas(def.ContextSchema)
	if err != nil {
		return nil, nil, err
	}
	evKeys, err := jsv.KeySchemas(def.EventsSchema)
	if err != nil {
		return nil, nil, err
	}

	ctxSchema := make(state.Schema, len(ctxKeys))
	for k, ks := range ctxKeys {
		ctxSchema[k] = ks
	}
	evSchema := make(state.Schema, len(evKeys))
	for k, ks := range evKeys {
		evSchema[k] = ks
	}

	open := func(s state.Schema, key string) {
		if _, ok := s[key]; !ok && key != "" && !expressions.HasInterpolation(key) {
			s[key] = nil
		}
	}
	if input, ok := def.Input.(map[string]any); ok {
		for k := range input {
			open(ctxSchema, k)
		}
	}
	for _, t := range def.Tasks {
		switch t.Action {
		case "context.set":
			if values, ok := t.Params["values"].(map[string]any); ok {
				for k := range values {
					open(ctxSchema, k)
				}
			}
			if key, ok := t.Params["key"].(string); ok {
				open(ctxSchema, key)
			}
		case "event.emit":
			if key, ok := t.Params["key"].(string); ok {
				open(evSchema, key)
			}
		}
	}
	return ctxSchema, evSchema, nil
}

// scopeOf renders the engine params (and a route's result) as an
// expression scope.
func scopeOf(p engine.Params, result any) expressions.Scope {
	s := expressions.Scope{
		Task:   p.Task,
		RunID:  p.RunID,
		Data:   p.Data,
		Result: result,
		Config: p.Config.Map(),
	}
	if p.Context != nil {
		s.Context = p.Context.GetAll()
	}
	if p.Events != nil {
		s.Events = p.Events.GetAllState()
	}
	if p.Exec != nil {
		s.Runs = p.Exec.TaskExecutionCounts()
	}
	return s
}

// configFrom splits the definition config into the engine's known fields
// and the free-form values.
func configFrom(m map[string]any) engine.Config {
	cfg := engine.Config{Values: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case "maxIterations":
			cfg.MaxIterations = toInt(v)
		case "timeoutMs":
			cfg.TimeoutMs = toInt(v)
		default:
			cfg.Values[k] = v
		}
	}
	return cfg
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func paramsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
