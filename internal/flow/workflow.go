package flow

import (
	"context"
	"log/slog"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/state"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Workflow is a compiled definition. It is immutable and can start any
// number of runs; each run gets its own Context and Event Store.
type Workflow struct {
	Definition *schema.WorkflowDefinition
	Warnings   []schema.ValidationIssue
	Config     engine.Config

	tasks         []engine.Task
	contextSchema state.Schema
	eventsSchema  state.Schema
	logger        *slog.Logger
}

// Name returns the definition name.
func (w *Workflow) Name() string { return w.Definition.Name }

// Tasks returns the compiled task definitions.
func (w *Workflow) Tasks() []engine.Task {
	return append([]engine.Task(nil), w.tasks...)
}

// NewState creates an empty Context and Event Store for one run.
func (w *Workflow) NewState() (*state.Context, *state.Events) {
	return state.NewContext(w.contextSchema, state.WithLogger(w.logger)),
		state.NewEvents(w.eventsSchema, state.WithLogger(w.logger))
}

// Builder returns a Builder preloaded with fresh run state, the config and
// every task. opts are applied after those defaults.
func (w *Workflow) Builder(opts ...engine.Option) *engine.Builder {
	ctx, events := w.NewState()
	return engine.NewBuilder().
		WithContext(ctx).
		WithEvents(events).
		WithConfig(w.Config).
		WithLogger(w.logger).
		With(opts...).
		AddTasks(w.tasks...)
}

// Run builds an engine and starts it at the definition's start task. A nil
// input falls back to the definition's input.
func (w *Workflow) Run(ctx context.Context, input any, opts ...engine.Option) (*engine.RunReport, error) {
	e, err := w.Builder(opts...).Build()
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = w.Definition.Input
	}
	return e.Start(ctx, w.Definition.Start, input)
}
