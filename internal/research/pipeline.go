package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/state"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Context keys.
const (
	KeyQuery    = "query"
	KeyQueries  = "queries"
	KeySources  = "sources"
	KeyAnalysis = "analysis"
	KeyReport   = "report"
)

// Event keys.
const (
	EventStatus = "status"
	EventAnswer = "answer"
)

const (
	defaultMaxIterations   = 2
	defaultMaxQueries      = 3
	defaultSourcesPerRound = 5
	defaultReadConcurrency = 4
	defaultRetries         = 2
	maxContentChars        = 4000
)

// ContextSchema declares the pipeline's shared state.
func ContextSchema() state.Schema {
	return state.Schema{
		KeyQuery:    state.TypeOf[string](),
		KeyQueries:  state.TypeOf[[]string](),
		KeySources:  state.TypeOf[[]Source](),
		KeyAnalysis: state.TypeOf[string](),
		KeyReport:   state.TypeOf[string](),
	}
}

// EventsSchema declares the events the pipeline emits.
func EventsSchema() state.Schema {
	return state.Schema{
		EventStatus: state.TypeOf[Progress](),
		EventAnswer: state.TypeOf[string](),
	}
}

// Pipeline builds and runs research workflows.
type Pipeline struct {
	model    Model
	searcher Searcher
	reader   Reader
	logger   *slog.Logger

	maxIterations   int
	maxQueries      int
	sourcesPerRound int
	readConcurrency int
	retries         int
	taskTimeout     time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxIterations caps how many search rounds a run may do.
func WithMaxIterations(n int) Option { return func(p *Pipeline) { p.maxIterations = n } }

// WithMaxQueries caps the queries taken from one plan or reflection.
func WithMaxQueries(n int) Option { return func(p *Pipeline) { p.maxQueries = n } }

// WithSourcesPerRound caps the new sources kept per search round.
func WithSourcesPerRound(n int) Option { return func(p *Pipeline) { p.sourcesPerRound = n } }

// WithReadConcurrency caps concurrent page reads.
func WithReadConcurrency(n int) Option { return func(p *Pipeline) { p.readConcurrency = n } }

// WithRetries sets the extra attempts of model and search calls.
func WithRetries(n int) Option { return func(p *Pipeline) { p.retries = n } }

// WithTaskTimeout bounds each task attempt.
func WithTaskTimeout(d time.Duration) Option { return func(p *Pipeline) { p.taskTimeout = d } }

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// NewPipeline creates a Pipeline. reader may be nil, in which case sources
// carry only their search snippets.
func NewPipeline(model Model, searcher Searcher, reader Reader, opts ...Option) *Pipeline {
	p := &Pipeline{
		model:           model,
		searcher:        searcher,
		reader:          reader,
		logger:          slog.Default(),
		maxIterations:   defaultMaxIterations,
		maxQueries:      defaultMaxQueries,
		sourcesPerRound: defaultSourcesPerRound,
		readConcurrency: defaultReadConcurrency,
		retries:         defaultRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of one research run.
type Result struct {
	RunID      string            `json:"run_id"`
	Query      string            `json:"query"`
	Report     string            `json:"report"`
	Analysis   string            `json:"analysis,omitempty"`
	Sources    []Source          `json:"sources"`
	Iterations int               `json:"iterations"`
	Run        *engine.RunReport `json:"run"`
}

// Tasks returns the pipeline's task definitions.
func (p *Pipeline) Tasks() []engine.Task {
	retry := func(t engine.Task) engine.Task {
		t.RetryCount = p.retries
		t.Timeout = p.taskTimeout
		t.Backoff = &engine.Backoff{Strategy: engine.BackoffExponential, Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
		return t
	}
	return []engine.Task{
		retry(engine.Task{Name: StagePlan, Execute: p.plan, Route: nextTo(StageSearch)}),
		retry(engine.Task{Name: StageSearch, Execute: p.search, Route: nextTo(StageReflect)}),
		{
			Name:    StageReflect,
			Execute: p.reflect,
			Route:   routeReflection,
			// A failed reflection still yields a report from what was found.
			OnError: &engine.ErrorPolicy{Strategy: schema.ErrorStrategyFallback, Fallback: StageAnalyze},
		},
		retry(engine.Task{Name: StageAnalyze, Execute: p.analyze, Route: nextTo(StageWrite)}),
		retry(engine.Task{Name: StageWrite, Execute: p.write}),
	}
}

// Builder returns a Builder with fresh run state and every task. opts are
// applied after the defaults.
func (p *Pipeline) Builder(opts ...engine.Option) *engine.Builder {
	return engine.NewBuilder().
		WithContext(state.NewContext(ContextSchema(), state.WithLogger(p.logger))).
		WithEvents(state.NewEvents(EventsSchema(), state.WithLogger(p.logger))).
		WithConfig(engine.Config{MaxIterations: p.maxIterations}).
		WithLogger(p.logger).
		With(opts...).
		AddTasks(p.Tasks()...)
}

// Run researches query and returns the written report. An error is
// returned when the run ends without a report; the partial Result is
// returned with it.
func (p *Pipeline) Run(ctx context.Context, query string, opts ...engine.Option) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "research query is empty")
	}

	e, err := p.Builder(opts...).Build()
	if err != nil {
		return nil, err
	}
	if err := e.Context().Set(KeyQuery, query); err != nil {
		return nil, err
	}

	report, err := e.Start(ctx, StagePlan, query)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:      report.RunID,
		Query:      query,
		Report:     getString(e.Context(), KeyReport),
		Analysis:   getString(e.Context(), KeyAnalysis),
		Sources:    getSources(e.Context()),
		Iterations: report.Counts[StageSearch],
		Run:        report,
	}
	if !report.Completed(StageWrite) {
		err := schema.NewErrorf(schema.ErrCodeTaskFailed, "research run %s ended with status %s before writing a report",
			report.RunID, report.Status)
		if len(report.Failures) > 0 {
			err = err.WithTask(report.Failures[0].Task).WithCause(report.Failures[0].Err)
		}
		return res, err
	}
	return res, nil
}

func (p *Pipeline) plan(ctx context.Context, tp engine.Params) (any, error) {
	query := getString(tp.Context, KeyQuery)
	p.progress(tp, StagePlan)

	text, err := p.model.Generate(ctx, Request{
		Stage:  StagePlan,
		System: systemPrompt,
		Prompt: planPrompt(query, p.maxQueries),
	})
	if err != nil {
		return nil, err
	}
	queries := parseQueries(text, p.maxQueries)
	if len(queries) == 0 {
		queries = []string{query}
	}
	if err := tp.Context.Set(KeyQueries, queries); err != nil {
		return nil, err
	}
	return queries, nil
}

func (p *Pipeline) search(ctx context.Context, tp engine.Params) (any, error) {
	queries, ok := tp.Data.([]string)
	if !ok || len(queries) == 0 {
		queries, _ = getValue[[]string](tp.Context, KeyQueries)
	}
	p.progress(tp, StageSearch)

	hits, err := p.searcher.Search(ctx, queries)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, s := range getSources(tp.Context) {
		seen[s.Link] = true
	}
	var fresh []Source
	for _, h := range hits {
		if h.Link == "" || seen[h.Link] {
			continue
		}
		seen[h.Link] = true
		fresh = append(fresh, Source{Title: h.Title, Link: h.Link, Snippet: h.Snippet})
		if len(fresh) == p.sourcesPerRound {
			break
		}
	}

	if err := p.read(ctx, fresh); err != nil {
		return nil, err
	}
	err = tp.Context.Update(KeySources, func(prev any) any {
		existing, _ := prev.([]Source)
		return append(append([]Source(nil), existing...), fresh...)
	})
	if err != nil {
		return nil, err
	}
	p.progress(tp, StageSearch)
	return fresh, nil
}

// read fills in source content concurrently. A page that cannot be read
// keeps its snippet.
func (p *Pipeline) read(ctx context.Context, sources []Source) error {
	if p.reader == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.readConcurrency)
	for i := range sources {
		g.Go(func() error {
			page, err := p.reader.Read(gctx, sources[i].Link)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.WarnContext(ctx, "page read failed",
					slog.String("url", sources[i].Link),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if sources[i].Title == "" {
				sources[i].Title = page.Title
			}
			sources[i].Content = truncate(page.Markdown, maxContentChars)
			return nil
		})
	}
	return g.Wait()
}

// reflection is the reflect task's result: follow-up queries, or none
// when the research is sufficient.
type reflection struct {
	FollowUp []string `json:"follow_up,omitempty"`
}

func (p *Pipeline) reflect(ctx context.Context, tp engine.Params) (any, error) {
	p.progress(tp, StageReflect)

	rounds := tp.Exec.GetTaskExecutionCount(StageSearch)
	if tp.Config.MaxIterations > 0 && rounds >= tp.Config.MaxIterations {
		return reflection{}, nil
	}

	text, err := p.model.Generate(ctx, Request{
		Stage:  StageReflect,
		System: systemPrompt,
		Prompt: reflectPrompt(getString(tp.Context, KeyQuery), getSources(tp.Context), p.maxQueries),
	})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(text), "DONE") {
		return reflection{}, nil
	}
	return reflection{FollowUp: parseQueries(text, p.maxQueries)}, nil
}

func routeReflection(rp engine.RouteParams) engine.Route {
	if r, ok := rp.Result.(reflection); ok && len(r.FollowUp) > 0 {
		return engine.NextWith(StageSearch, r.FollowUp)
	}
	return engine.Next(StageAnalyze)
}

func (p *Pipeline) analyze(ctx context.Context, tp engine.Params) (any, error) {
	p.progress(tp, StageAnalyze)

	text, err := p.model.Generate(ctx, Request{
		Stage:  StageAnalyze,
		System: systemPrompt,
		Prompt: analyzePrompt(getString(tp.Context, KeyQuery), getSources(tp.Context)),
	})
	if err != nil {
		return nil, err
	}
	if err := tp.Context.Set(KeyAnalysis, text); err != nil {
		return nil, err
	}
	return text, nil
}

func (p *Pipeline) write(ctx context.Context, tp engine.Params) (any, error) {
	p.progress(tp, StageWrite)

	text, err := p.model.Generate(ctx, Request{
		Stage:  StageWrite,
		System: systemPrompt,
		Prompt: writePrompt(getString(tp.Context, KeyQuery), getString(tp.Context, KeyAnalysis), getSources(tp.Context)),
	})
	if err != nil {
		return nil, err
	}
	if err := tp.Context.Set(KeyReport, text); err != nil {
		return nil, err
	}
	if err := tp.Events.Emit(EventAnswer, text); err != nil {
		return nil, err
	}
	return text, nil
}

func (p *Pipeline) progress(tp engine.Params, stage string) {
	_ = tp.Events.Emit(EventStatus, Progress{
		Stage:     stage,
		Iteration: tp.Exec.GetTaskExecutionCount(StageSearch),
		Sources:   len(getSources(tp.Context)),
	})
}

func nextTo(task string) engine.RouteFunc {
	return func(engine.RouteParams) engine.Route { return engine.Next(task) }
}

func getValue[T any](c *state.Context, key string) (T, bool) {
	v, _ := c.Get(key)
	t, ok := v.(T)
	return t, ok
}

func getString(c *state.Context, key string) string {
	s, _ := getValue[string](c, key)
	return s
}

func getSources(c *state.Context) []Source {
	s, _ := getValue[[]Source](c, KeySources)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
