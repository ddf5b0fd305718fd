package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/trendy-design/taskflow/internal/state"
)

// Builder assembles an Engine from shared state, configuration and an
// ordered list of task definitions. Every Build returns a fresh Engine, so
// one Builder can serve many runs; Context and Events passed to it are
// shared by those runs.
type Builder struct {
	opts  []Option
	tasks []Task
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithContext uses c as the run's Typed Context.
func (b *Builder) WithContext(c *state.Context) *Builder { return b.With(WithContext(c)) }

// WithEvents uses ev as the run's Event Store.
func (b *Builder) WithEvents(ev *state.Events) *Builder { return b.With(WithEvents(ev)) }

// WithConfig sets the read-only run configuration handed to every task.
func (b *Builder) WithConfig(c Config) *Builder { return b.With(WithConfig(c)) }

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder { return b.With(WithLogger(l)) }

// WithObserver adds lifecycle observers.
func (b *Builder) WithObserver(obs ...Observer) *Builder { return b.With(WithObserver(obs...)) }

// WithTracer records a span per task attempt on t.
func (b *Builder) WithTracer(t trace.Tracer) *Builder { return b.With(WithTracer(t)) }

// WithMaxConcurrency bounds the number of attempts running at once.
func (b *Builder) WithMaxConcurrency(n int) *Builder { return b.With(WithMaxConcurrency(n)) }

// WithCircuitBreaker guards every task with a breaker from r.
func (b *Builder) WithCircuitBreaker(r *CircuitBreakerRegistry) *Builder {
	return b.With(WithCircuitBreaker(r))
}

// WithRetryBackoff sets the default wait between retries.
func (b *Builder) WithRetryBackoff(bo *Backoff) *Builder { return b.With(WithRetryBackoff(bo)) }

// WithAutoWake dispatches waiting tasks once their last dependency completes.
func (b *Builder) WithAutoWake(enabled bool) *Builder { return b.With(WithAutoWake(enabled)) }

// With appends raw engine options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// AddTask appends one task definition.
func (b *Builder) AddTask(t Task) *Builder {
	b.tasks = append(b.tasks, t)
	return b
}

// AddTasks appends several task definitions in order.
func (b *Builder) AddTasks(ts ...Task) *Builder {
	b.tasks = append(b.tasks, ts...)
	return b
}

// Tasks returns the accumulated definitions.
func (b *Builder) Tasks() []Task {
	return append([]Task(nil), b.tasks...)
}

// Build creates an Engine and registers every task, defaulting a missing
// route to ending the branch. It stops at the first invalid definition.
func (b *Builder) Build(extra ...Option) (*Engine, error) {
	opts := append(append([]Option(nil), b.opts...), extra...)
	e := New(opts...)
	for _, t := range b.tasks {
		if err := e.Register(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}
