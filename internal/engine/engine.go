package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/trendy-design/taskflow/internal/logging"
	"github.com/trendy-design/taskflow/internal/state"
	"github.com/trendy-design/taskflow/pkg/schema"
)

const tracerName = "github.com/trendy-design/taskflow/internal/engine"

// Engine schedules the tasks of one workflow run. Create one per run;
// share Limiter and CircuitBreakerRegistry instances between runs instead.
type Engine struct {
	mu    sync.RWMutex
	tasks map[string]Task

	exec    *ExecutionContext
	context *state.Context
	events  *state.Events
	config  Config
	runID   string

	logger      *slog.Logger
	observers   []Observer
	tracer      trace.Tracer
	limiter     *Limiter
	breakers    *CircuitBreakerRegistry
	backoff     *Backoff
	fsm         *TaskFSM
	onTaskError func(task string, err error)
	wake        *wakeup

	rmu      sync.Mutex
	results  map[string]*TaskResult
	failures []*TaskResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithContext sets the shared typed Context.
func WithContext(c *state.Context) Option { return func(e *Engine) { e.context = c } }

// WithEvents sets the shared Event Store.
func WithEvents(ev *state.Events) Option { return func(e *Engine) { e.events = ev } }

// WithConfig sets the configuration handed to every task.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithObserver adds lifecycle observers.
func WithObserver(obs ...Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// WithTracer sets the OpenTelemetry tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithMaxConcurrency bounds concurrently executing attempts of this engine.
func WithMaxConcurrency(n int) Option { return func(e *Engine) { e.limiter = NewLimiter(n) } }

// WithLimiter bounds attempts with a limiter that may be shared.
func WithLimiter(l *Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithCircuitBreaker guards every task with a breaker from r.
func WithCircuitBreaker(r *CircuitBreakerRegistry) Option { return func(e *Engine) { e.breakers = r } }

// WithRetryBackoff sets the backoff of tasks that declare none.
func WithRetryBackoff(b *Backoff) Option { return func(e *Engine) { e.backoff = b } }

// WithAutoWake makes the engine dispatch a task with dependencies as soon
// as the last of them completes. Off by default: fan-in tasks then run only
// when a route targets them after their dependencies completed.
func WithAutoWake(enabled bool) Option {
	return func(e *Engine) {
		if enabled {
			e.wake = newWakeup()
		} else {
			e.wake = nil
		}
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option { return func(e *Engine) { e.runID = id } }

// OnTaskError registers the callback told about every task failure.
func OnTaskError(fn func(task string, err error)) Option {
	return func(e *Engine) { e.onTaskError = fn }
}

// New creates an Engine with a fresh ExecutionContext.
func New(opts ...Option) *Engine {
	e := &Engine{
		tasks:   make(map[string]Task),
		exec:    NewExecutionContext(),
		runID:   uuid.NewString(),
		results: make(map[string]*TaskResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.context == nil {
		e.context = state.NewContext(state.Schema{}, state.WithLogger(e.logger))
	}
	if e.events == nil {
		e.events = state.NewEvents(state.Schema{}, state.WithLogger(e.logger))
	}
	e.fsm = NewTaskFSM(e.emit)
	e.exec.onExecution = func(task string, count int) {
		e.emit(context.Background(), LifecycleEvent{
			Type: schema.EventTaskExecution,
			Task: task,
			Data: map[string]any{"taskName": task, "count": count},
		})
	}
	return e
}

// Register adds a task definition. Names must be unique.
func (e *Engine) Register(t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.Route == nil {
		t.Route = EndRoute
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tasks[t.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %q already registered", t.Name).WithTask(t.Name)
	}
	e.tasks[t.Name] = t
	if e.wake != nil {
		e.wake.register(t.Name, t.Dependencies)
	}
	return nil
}

// Has reports whether a task is registered.
func (e *Engine) Has(name string) bool {
	_, ok := e.task(name)
	return ok
}

// TaskNames returns the registered task names, sorted.
func (e *Engine) TaskNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tasks))
	for n := range e.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) task(name string) (Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[name]
	return t, ok
}

// Start merges a record-shaped start payload into the Context, runs
// initial with data and waits until every branch it spawned has ended.
// Task failures do not make Start fail; they are reported in the
// RunReport and to OnTaskError. Start fails only for an unknown task.
func (e *Engine) Start(ctx context.Context, initial string, data any) (*RunReport, error) {
	if !e.Has(initial) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "start task %q is not registered", initial).WithTask(initial)
	}

	ctx = logging.WithRunID(ctx, e.runID)
	ctx, span := e.tracer.Start(ctx, "taskflow.run", trace.WithAttributes(
		attribute.String("taskflow.run_id", e.runID),
		attribute.String("taskflow.start", initial),
	))
	defer span.End()

	if record, ok := data.(map[string]any); ok {
		_ = e.context.Merge(record)
	}

	started := time.Now()
	e.logger.InfoContext(ctx, "workflow run started", slog.String("start", initial))
	ev := LifecycleEvent{Type: schema.EventRunStarted, Task: initial}
	if data != nil {
		ev.Data = map[string]any{"input": data}
	}
	e.emit(ctx, ev)

	e.ExecuteTask(ctx, initial, data)

	report := e.report(started)
	switch report.Status {
	case schema.RunStatusAborted:
		e.emit(ctx, LifecycleEvent{Type: schema.EventRunAborted, Duration: report.Duration})
	default:
		e.emit(ctx, LifecycleEvent{
			Type:     schema.EventRunCompleted,
			Duration: report.Duration,
			Data:     map[string]any{"status": string(report.Status), "failures": len(report.Failures)},
		})
	}
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d task failures", len(report.Failures)))
	}
	e.logger.InfoContext(ctx, "workflow run finished",
		slog.String("status", string(report.Status)),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// ExecuteTask runs task name with data and then every task its routes lead
// to, returning once all of them ended. The result describes name only.
func (e *Engine) ExecuteTask(ctx context.Context, name string, data any) *TaskResult {
	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, e.runID)
	}
	first, next := e.step(ctx, name, data)
	for len(next) == 1 {
		_, next = e.step(ctx, next[0].Task, next[0].Data)
	}
	if len(next) > 1 {
		e.fanOut(ctx, next)
	}
	return first
}

// fanOut runs every target as its own branch and waits for all of them.
func (e *Engine) fanOut(ctx context.Context, targets []Target) {
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			e.ExecuteTask(ctx, t.Task, t.Data)
			return nil
		})
	}
	_ = g.Wait()
}

// step dispatches one task and returns its result plus the resolved
// targets to run next.
func (e *Engine) step(ctx context.Context, name string, data any) (*TaskResult, []Target) {
	ctx = logging.WithTask(ctx, name)
	log := e.logger

	if e.exec.Halted() {
		log.DebugContext(ctx, "task skipped: workflow aborted")
		e.emit(ctx, LifecycleEvent{Type: schema.EventTaskSkipped, Task: name, Data: map[string]any{"reason": "aborted"}})
		return skipped(name, schema.TaskStatusPending, schema.NewError(schema.ErrCodeAborted, "workflow aborted").WithTask(name)), nil
	}

	t, ok := e.task(name)
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeNotFound, "task %q is not registered", name).WithTask(name)
		log.ErrorContext(ctx, "task not found")
		res := skipped(name, schema.TaskStatusPending, err)
		e.recordFailure(res)
		return res, nil
	}

	if unmet := e.exec.unmet(t.Dependencies); len(unmet) > 0 {
		log.DebugContext(ctx, "task waiting on dependencies", slog.Any("unmet", unmet))
		_ = e.fsm.Transition(ctx, name, schema.TaskStatusWaiting, LifecycleEvent{Data: map[string]any{"unmet": unmet}})
		if e.wake != nil {
			e.wake.park(name, data, unmet)
		}
		return skipped(name, schema.TaskStatusWaiting, schema.NewErrorf(schema.ErrCodeDependencyPending, "waiting on %v", unmet).WithTask(name)), nil
	}

	if !e.exec.tryStart(name) {
		log.DebugContext(ctx, "task skipped: already running")
		e.emit(ctx, LifecycleEvent{Type: schema.EventTaskSkipped, Task: name, Data: map[string]any{"reason": "running"}})
		return skipped(name, schema.TaskStatusRunning, schema.NewError(schema.ErrCodeConflict, "task is already running").WithTask(name)), nil
	}
	if e.wake != nil {
		e.wake.disarm(name)
		defer e.wake.rearm(name)
	}

	if err := e.fsm.Transition(ctx, name, schema.TaskStatusRunning, LifecycleEvent{}); err != nil {
		log.WarnContext(ctx, "task state", slog.String("error", err.Error()))
	}

	started := time.Now()
	out, attempts, err := e.runAttempts(ctx, t, data)
	res := &TaskResult{Task: name, Attempts: attempts, Duration: time.Since(started)}

	if err != nil {
		res.Status = schema.TaskStatusFailed
		res.Err = err
		e.exec.release(name)
		_ = e.fsm.Transition(ctx, name, schema.TaskStatusFailed, LifecycleEvent{
			Attempt: attempts, Duration: res.Duration, Error: err.Error(),
		})
		log.ErrorContext(ctx, "task failed", slog.Int("attempts", attempts), slog.String("error", err.Error()))
		e.recordFailure(res)
		return res, e.handleTaskError(ctx, t, data, res)
	}

	res.Status = schema.TaskStatusCompleted
	res.Output = out
	e.exec.MarkTaskComplete(name, out)
	_ = e.fsm.Transition(ctx, name, schema.TaskStatusCompleted, LifecycleEvent{Attempt: attempts, Duration: res.Duration})
	e.recordResult(res)

	if e.exec.Halted() {
		log.DebugContext(ctx, "routing skipped: workflow aborted")
		return res, nil
	}
	return res, e.next(ctx, t, data, out)
}

// next evaluates the route of a finished task and adds fan-in tasks whose
// countdown reached zero.
func (e *Engine) next(ctx context.Context, t Task, data, result any) []Target {
	route := e.route(ctx, t, data, result)
	targets := resolve(route, result)

	var woken []Target
	if e.wake != nil {
		names, parked := e.wake.complete(t.Name)
		for _, n := range names {
			d, ok := parked[n]
			if !ok {
				d = e.dependencyData(n)
			}
			woken = append(woken, To(n, d))
		}
	}

	if _, graceful := e.exec.Aborted(); graceful {
		if route.Kind() == RouteMany || len(woken) > 0 {
			e.logger.InfoContext(ctx, "new branches dropped: workflow shutting down",
				slog.Any("targets", route.Names()), slog.Int("woken", len(woken)))
		}
		if route.Kind() == RouteMany {
			return nil
		}
		return targets
	}

	if len(targets) > 0 || len(woken) > 0 {
		e.emit(ctx, LifecycleEvent{
			Type: schema.EventTaskRouted,
			Task: t.Name,
			Data: map[string]any{"kind": route.Kind().String(), "targets": route.Names(), "woken": len(woken)},
		})
	}
	return dedupe(append(targets, woken...))
}

func (e *Engine) route(ctx context.Context, t Task, data, result any) (r Route) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.ErrorContext(ctx, "route panicked, ending branch", slog.Any("panic", p))
			r = End()
		}
	}()
	return t.Route(RouteParams{Params: e.params(t.Name, data, 0), Result: result})
}

func (e *Engine) dependencyData(task string) map[string]any {
	t, _ := e.task(task)
	out := make(map[string]any, len(t.Dependencies))
	for _, d := range t.Dependencies {
		out[d], _ = e.exec.GetTaskData(d)
	}
	return out
}

// runAttempts executes t up to RetryCount+1 times, waiting the backoff
// between attempts. Non-retryable errors stop early.
func (e *Engine) runAttempts(ctx context.Context, t Task, data any) (any, int, error) {
	backoff := t.Backoff
	if backoff == nil {
		backoff = e.backoff
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= t.RetryCount+1; attempt++ {
		if attempt > 1 {
			if e.exec.Halted() {
				return nil, attempts, schema.NewError(schema.ErrCodeAborted, "workflow aborted between attempts").WithTask(t.Name).WithCause(lastErr)
			}
			delay := ComputeBackoff(backoff, attempt-2)
			e.emit(ctx, LifecycleEvent{
				Type: schema.EventTaskRetrying, Task: t.Name, Attempt: attempt, Duration: delay, Error: lastErr.Error(),
			})
			if err := WaitForBackoff(ctx, e.exec.Done(), delay); err != nil {
				return nil, attempts, err
			}
		}

		if e.breakers != nil {
			if err := e.breakers.Allow(t.Name); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		out, err := e.attempt(ctx, t, data, attempt)
		if e.breakers != nil {
			if err == nil {
				e.breakers.Succeeded(t.Name)
			} else if e.breakers.Failed(t.Name) == CircuitOpen {
				e.emit(ctx, LifecycleEvent{Type: schema.EventCircuitBreakerOpen, Task: t.Name, Data: e.breakers.Stats(t.Name)})
			}
		}
		if err == nil {
			return out, attempts, nil
		}

		lastErr = err
		e.logger.WarnContext(logging.WithAttempt(ctx, attempt), "task attempt failed", slog.String("error", err.Error()))
		if !IsRetryableError(err) {
			break
		}
	}
	return nil, attempts, lastErr
}

type attemptResult struct {
	out      any
	err      error
	panicked bool
}

// attempt runs one execute call. The engine stops waiting at the task
// timeout or when ctx is done; the call itself only sees its context
// cancelled and is expected to return on its own. A hard abort cancels
// the call's context without abandoning the wait.
func (e *Engine) attempt(ctx context.Context, t Task, data any, n int) (any, error) {
	ctx = logging.WithAttempt(ctx, n)
	ctx, span := e.tracer.Start(ctx, "taskflow.task "+t.Name, trace.WithAttributes(
		attribute.String("taskflow.run_id", e.runID),
		attribute.String("taskflow.task", t.Name),
		attribute.Int("taskflow.attempt", n),
	))
	defer span.End()

	release, err := e.limiter.Acquire(ctx, e.exec.Done())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	if t.Timeout > 0 {
		waitCtx, cancelWait = context.WithTimeout(ctx, t.Timeout)
	}
	defer cancelWait()

	taskCtx, cancelTask := context.WithCancel(waitCtx)
	defer cancelTask()
	go func() {
		select {
		case <-e.exec.Done():
			cancelTask()
		case <-taskCtx.Done():
		}
	}()

	done := make(chan attemptResult, 1)
	params := e.params(t.Name, data, n)
	go func() {
		var r attemptResult
		defer func() {
			if p := recover(); p != nil {
				r = attemptResult{
					err:      schema.NewErrorf(schema.ErrCodeExecution, "task panicked: %v", p).WithTask(t.Name),
					panicked: true,
				}
			}
			release(r.err, r.panicked)
			done <- r
		}()
		r.out, r.err = t.Execute(taskCtx, params)
	}()

	var r attemptResult
	select {
	case r = <-done:
	case <-waitCtx.Done():
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.err = schema.NewErrorf(schema.ErrCodeTimeout, "task timed out after %s", t.Timeout).
				WithTask(t.Name).WithCause(context.DeadlineExceeded)
		} else {
			r.err = schema.NewError(schema.ErrCodeCancelled, "task cancelled").WithTask(t.Name).WithCause(ctx.Err())
		}
	}

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}
	return r.out, r.err
}

func (e *Engine) params(task string, data any, attempt int) Params {
	return Params{
		Task:    task,
		Data:    data,
		RunID:   e.runID,
		Attempt: attempt,
		Exec:    e.exec,
		Context: e.context,
		Events:  e.events,
		Config:  e.config,
		abort:   e.Abort,
	}
}

// Abort stops the run; see ExecutionContext.AbortWorkflow.
func (e *Engine) Abort(graceful bool) {
	e.logger.Info("workflow abort requested", slog.String("run_id", e.runID), slog.Bool("graceful", graceful))
	e.exec.AbortWorkflow(graceful)
}

// RunID returns the ID of this run.
func (e *Engine) RunID() string { return e.runID }

// Exec returns the scheduling state.
func (e *Engine) Exec() *ExecutionContext { return e.exec }

// Context returns the shared typed Context.
func (e *Engine) Context() *state.Context { return e.context }

// Events returns the shared Event Store.
func (e *Engine) Events() *state.Events { return e.events }

// Config returns the task configuration.
func (e *Engine) Config() Config { return e.config }

// States returns the FSM state of every task seen this run.
func (e *Engine) States() map[string]schema.TaskStatus { return e.fsm.States() }

// GetTaskRunCount returns how many times task completed.
func (e *Engine) GetTaskRunCount(task string) int { return e.exec.GetTaskExecutionCount(task) }

// GetAllTaskRunCounts returns every task's completion count.
func (e *Engine) GetAllTaskRunCounts() map[string]int { return e.exec.TaskExecutionCounts() }

// HasTaskReachedMaxRuns reports whether task completed at least maxRuns times.
func (e *Engine) HasTaskReachedMaxRuns(task string, maxRuns int) bool {
	return e.exec.HasReachedMaxRuns(task, maxRuns)
}

// Failures returns every failed task result recorded so far.
func (e *Engine) Failures() []*TaskResult {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	return append([]*TaskResult(nil), e.failures...)
}

func (e *Engine) recordResult(res *TaskResult) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	e.results[res.Task] = res
}

func (e *Engine) recordFailure(res *TaskResult) {
	e.rmu.Lock()
	e.results[res.Task] = res
	e.failures = append(e.failures, res)
	cb := e.onTaskError
	e.rmu.Unlock()

	if cb != nil {
		cb(res.Task, res.Err)
	}
}

func skipped(task string, status schema.TaskStatus, err error) *TaskResult {
	return &TaskResult{Task: task, Status: status, Skipped: true, Err: err}
}

// resolve fills in the routed result for targets without explicit data.
func resolve(r Route, result any) []Target {
	if r.Kind() == RouteEnd {
		return nil
	}
	out := make([]Target, len(r.targets))
	for i, t := range r.targets {
		if !t.HasData {
			t = To(t.Task, result)
		}
		out[i] = t
	}
	return out
}

// dedupe keeps the first target per task name.
func dedupe(targets []Target) []Target {
	if len(targets) < 2 {
		return targets
	}
	seen := make(map[string]bool, len(targets))
	out := targets[:0:0]
	for _, t := range targets {
		if seen[t.Task] {
			continue
		}
		seen[t.Task] = true
		out = append(out, t)
	}
	return out
}
