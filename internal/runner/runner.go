// Package runner compiles workflow definitions and runs them with the
// process-wide journal, metrics and event stream attached.
package runner

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/metrics"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Runner runs compiled workflows. The zero set of options runs without a
// journal, metrics or stream.
type Runner struct {
	compiler   *flow.Compiler
	store      store.Store
	metrics    *metrics.Collector
	hub        streaming.EventHub
	logger     *slog.Logger
	breakers   *engine.CircuitBreakerRegistry
	engineOpts []engine.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore journals every run in s.
func WithStore(s store.Store) Option { return func(r *Runner) { r.store = s } }

// WithMetrics records every run on c.
func WithMetrics(c *metrics.Collector) Option { return func(r *Runner) { r.metrics = c } }

// WithHub streams lifecycle events and Event Store emits to hub.
func WithHub(hub streaming.EventHub) Option { return func(r *Runner) { r.hub = hub } }

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithCircuitBreakers guards every run with breakers scoped to its
// workflow name, so repeated runs of a failing task trip its breaker.
func WithCircuitBreakers(b *engine.CircuitBreakerRegistry) Option {
	return func(r *Runner) { r.breakers = b }
}

// WithEngineOptions appends options applied to every engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// Result is the outcome of one run.
type Result struct {
	RunID    string                   `json:"run_id"`
	Workflow string                   `json:"workflow"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
	Report   *engine.RunReport        `json:"report"`
}

// New creates a Runner over compiler.
func New(compiler *flow.Compiler, opts ...Option) *Runner {
	r := &Runner{compiler: compiler, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compiler returns the definition compiler.
func (r *Runner) Compiler() *flow.Compiler { return r.compiler }

// Store returns the run journal store, or nil.
func (r *Runner) Store() store.Store { return r.store }

// Validate checks def without running it.
func (r *Runner) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	return r.compiler.Validate(def)
}

// RunFile loads, compiles and runs the definition at path.
func (r *Runner) RunFile(ctx context.Context, path string, input any) (*Result, error) {
	def, err := flow.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, def, input)
}

// Run compiles and runs def. A nil input falls back to the definition's input.
func (r *Runner) Run(ctx context.Context, def *schema.WorkflowDefinition, input any) (*Result, error) {
	wf, err := r.compiler.Compile(def)
	if err != nil {
		return nil, err
	}
	return r.RunWorkflow(ctx, wf, input)
}

// RunWorkflow runs a compiled workflow under a fresh run id.
func (r *Runner) RunWorkflow(ctx context.Context, wf *flow.Workflow, input any) (*Result, error) {
	runID := uuid.NewString()
	runCtx, events := wf.NewState()

	opts := []engine.Option{
		engine.WithRunID(runID),
		engine.WithContext(runCtx),
		engine.WithEvents(events),
	}
	var journal *store.Journal
	if r.store != nil {
		journal = store.NewJournal(r.store, wf.Name(), store.WithJournalLogger(r.logger))
		opts = append(opts, engine.WithObserver(journal))
	}
	if r.metrics != nil {
		opts = append(opts, engine.WithObserver(r.metrics.Observer(wf.Name())))
	}
	if r.hub != nil {
		opts = append(opts, engine.WithObserver(streaming.NewObserver(r.hub)))
		detach := streaming.BridgeEvents(r.hub, runID, events)
		defer detach()
	}
	if r.breakers != nil {
		opts = append(opts, engine.WithCircuitBreaker(r.breakers.Scope(wf.Name())))
	}
	opts = append(opts, r.engineOpts...)

	report, err := wf.Run(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	if journal != nil {
		if err := journal.Record(context.WithoutCancel(ctx), report); err != nil {
			r.logger.WarnContext(ctx, "journal report failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.InfoContext(ctx, "workflow run finished",
		slog.String("workflow", wf.Name()),
		slog.String("run_id", runID),
		slog.String("status", string(report.Status)),
		slog.Int("failures", len(report.Failures)),
	)
	return &Result{RunID: runID, Workflow: wf.Name(), Warnings: wf.Warnings, Report: report}, nil
}
