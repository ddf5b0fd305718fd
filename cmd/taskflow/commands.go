package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/api"
	"github.com/trendy-design/taskflow/internal/diagram"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/research"
	"github.com/trendy-design/taskflow/internal/scheduler"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
	"github.com/trendy-design/taskflow/pkg/mcp"
	"github.com/trendy-design/taskflow/pkg/schema"
)

type cli struct {
	cfg    Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) flags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		fmt.Fprintf(c.stderr, "usage: taskflow %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) open(ctx context.Context, noStore bool) (*app, error) {
	return newApp(ctx, c.cfg, appOptions{noStore: noStore, logTo: c.stderr})
}

// --- run ---

func (c *cli) run(ctx context.Context, args []string) int {
	fs := c.flags("run", "<workflow.yaml>")
	inputJSON := fs.String("input", "", "input record as JSON (default: the definition's input)")
	inputFile := fs.String("input-file", "", "read the input record from a JSON or YAML file")
	noStore := fs.Bool("no-store", false, "do not journal the run")
	stream := fs.Bool("stream", false, "print lifecycle and emitted events to stderr as JSON lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	input, err := readInput(*inputJSON, *inputFile)
	if err != nil {
		return c.fail(err)
	}

	a, err := c.open(ctx, *noStore)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	if *stream {
		events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return c.fail(err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			enc := json.NewEncoder(c.stderr)
			for ev := range events {
				_ = enc.Encode(ev)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	res, err := a.runner.RunFile(ctx, fs.Arg(0), input)
	if err != nil {
		return c.fail(err)
	}
	if err := writeJSON(c.stdout, res); err != nil {
		return c.fail(err)
	}
	if res.Report.Status != schema.RunStatusCompleted {
		return 1
	}
	return 0
}

// readInput returns the run input from an inline JSON value or a file. nil
// means "use the definition's input".
func readInput(inline, path string) (any, error) {
	var data []byte
	switch {
	case inline != "" && path != "":
		return nil, fmt.Errorf("-input and -input-file are mutually exclusive")
	case inline != "":
		data = []byte(inline)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		data = b
	default:
		return nil, nil
	}
	// YAML is a superset of JSON, so one decoder covers both.
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return v, nil
}

// --- validate ---

func (c *cli) validate(args []string) int {
	fs := c.flags("validate", "<workflow.yaml>")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	def, err := flow.LoadFile(fs.Arg(0))
	if err != nil {
		return c.fail(err)
	}
	compiler, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, flow.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		return c.fail(err)
	}

	result := compiler.Validate(def)
	for _, issue := range result.Errors {
		fmt.Fprintf(c.stdout, "error   %s: %s (%s)\n", issue.Location(), issue.Message, issue.Code)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(c.stdout, "warning %s: %s (%s)\n", issue.Location(), issue.Message, issue.Code)
	}
	if !result.Valid() {
		return 1
	}
	fmt.Fprintf(c.stdout, "%s: ok (%d tasks)\n", fs.Arg(0), len(def.Tasks))
	return 0
}

// --- graph ---

func (c *cli) graph(ctx context.Context, args []string) int {
	fs := c.flags("graph", "<workflow.yaml>")
	format := fs.String("format", diagram.FormatASCII, "ascii, mermaid, png or svg")
	runID := fs.String("run", "", "overlay the task statuses of a recorded run")
	out := fs.String("o", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	def, err := flow.LoadFile(fs.Arg(0))
	if err != nil {
		return c.fail(err)
	}

	var report *engine.RunReport
	if *runID != "" {
		a, err := c.open(ctx, false)
		if err != nil {
			return c.fail(err)
		}
		run, err := a.store.GetRun(ctx, *runID)
		a.Close()
		if err != nil {
			return c.fail(err)
		}
		if report, err = diagram.DecodeReport(run.Report); err != nil {
			return c.fail(err)
		}
	}

	model, err := diagram.Build(def, report)
	if err != nil {
		return c.fail(err)
	}
	data, err := diagram.Render(ctx, model, *format)
	if err != nil {
		return c.fail(err)
	}

	if *out == "" {
		if _, err := c.stdout.Write(data); err != nil {
			return c.fail(err)
		}
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stderr, "wrote %s (%d bytes)\n", *out, len(data))
	return 0
}

// --- history ---

func (c *cli) history(ctx context.Context, args []string) int {
	fs := c.flags("history", "")
	workflow := fs.String("workflow", "", "only runs of this workflow")
	status := fs.String("status", "", "only runs with this status")
	limit := fs.Int("limit", 20, "maximum number of runs")
	runID := fs.String("run", "", "show the journal of one run")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := c.open(ctx, false)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	if *runID != "" {
		run, err := a.store.GetRun(ctx, *runID)
		if err != nil {
			return c.fail(err)
		}
		events, err := a.store.GetEvents(ctx, *runID, 0)
		if err != nil {
			return c.fail(err)
		}
		if *asJSON {
			if err := writeJSON(c.stdout, map[string]any{"run": run, "events": events}); err != nil {
				return c.fail(err)
			}
			return 0
		}
		printRun(c.stdout, run, events)
		return 0
	}

	runs, err := a.store.ListRuns(ctx, store.RunFilter{
		Workflow: *workflow,
		Status:   schema.RunStatus(*status),
		Limit:    *limit,
	})
	if err != nil {
		return c.fail(err)
	}
	if *asJSON {
		if err := writeJSON(c.stdout, runs); err != nil {
			return c.fail(err)
		}
		return 0
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Workflow, r.Status, r.CreatedAt.Local().Format(time.DateTime), runDuration(r))
	}
	_ = tw.Flush()
	return 0
}

func printRun(w io.Writer, run *store.Run, events []*store.Event) {
	fmt.Fprintf(w, "run:      %s\nworkflow: %s\nstatus:   %s\nduration: %s\n", run.ID, run.Workflow, run.Status, runDuration(run))
	if run.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tTASK\tATTEMPT\tSTATUS")
	for _, e := range events {
		attempt := ""
		if e.Attempt > 0 {
			attempt = fmt.Sprint(e.Attempt)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Timestamp.Local().Format("15:04:05.000"), e.Type, e.Task, attempt, e.Status)
	}
	_ = tw.Flush()
}

func runDuration(r *store.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.CreatedAt).Round(time.Millisecond).String()
}

// --- schedule ---

func (c *cli) schedule(ctx context.Context, args []string) int {
	fs := c.flags("schedule", "<jobs.yaml>")
	once := fs.Bool("once", false, "run every enabled job once and exit")
	metricsAddr := fs.String("metrics-addr", c.cfg.MetricsAddr, "metrics listen address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	jobs, err := scheduler.LoadJobs(fs.Arg(0))
	if err != nil {
		return c.fail(err)
	}

	a, err := c.open(ctx, false)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	sched := scheduler.NewScheduler(scheduler.RunnerFunc(func(ctx context.Context, job scheduler.Job) error {
		var input any
		if job.Input != nil {
			input = job.Input
		}
		res, err := a.runner.RunFile(ctx, job.Workflow, input)
		if err != nil {
			return err
		}
		if res.Report.Status != schema.RunStatusCompleted {
			return schema.NewErrorf(schema.ErrCodeTaskFailed, "run %s finished %s", res.RunID, res.Report.Status)
		}
		return nil
	}), a.logger)

	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return c.fail(err)
		}
	}

	if *once {
		failed := 0
		for _, st := range sched.Jobs() {
			if st.Job.Disabled {
				continue
			}
			if err := sched.RunNow(ctx, st.Job.ID); err != nil {
				fmt.Fprintf(c.stderr, "job %s: %v\n", st.Job.ID, err)
				failed++
				continue
			}
			fmt.Fprintf(c.stdout, "job %s: ok\n", st.Job.ID)
		}
		if failed > 0 {
			return 1
		}
		return 0
	}

	a.serveMetrics(ctx, *metricsAddr)
	if err := sched.Start(ctx); err != nil {
		return c.fail(err)
	}
	a.logger.Info("scheduler started", slog.Int("jobs", len(jobs)))
	<-ctx.Done()
	if err := sched.Stop(); err != nil {
		return c.fail(err)
	}
	return 0
}

// --- research ---

func (c *cli) research(ctx context.Context, args []string) int {
	fs := c.flags("research", "<question>")
	iterations := fs.Int("iterations", 2, "maximum search rounds")
	queries := fs.Int("queries", 3, "search queries per round")
	sources := fs.Int("sources", 5, "sources read per round")
	timeout := fs.Duration("task-timeout", 2*time.Minute, "timeout of each pipeline step")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fs.Usage()
		return 2
	}
	if c.cfg.OpenAIKey == "" {
		return c.fail(fmt.Errorf("OPENAI_API_KEY is not set"))
	}
	if c.cfg.SearchURL == "" {
		return c.fail(fmt.Errorf("TASKFLOW_SEARCH_URL is not set"))
	}

	a, err := c.open(ctx, false)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	model := research.NewOpenAIModel(research.NewOpenAIClient(c.cfg.OpenAIKey, c.cfg.OpenAIBaseURL), c.cfg.OpenAIModel)
	pipeline := research.NewPipeline(model,
		research.NewHTTPSearcher(c.cfg.SearchURL, c.cfg.SearchKey, *sources*2, nil),
		research.NewHTTPReader(nil),
		research.WithMaxIterations(*iterations),
		research.WithMaxQueries(*queries),
		research.WithSourcesPerRound(*sources),
		research.WithTaskTimeout(*timeout),
		research.WithLogger(a.logger),
	)

	journal := store.NewJournal(a.store, "research", store.WithJournalLogger(a.logger))
	opts := append(a.engineOptions(),
		engine.WithObserver(journal, a.metrics.Observer("research")),
	)
	res, runErr := pipeline.Run(ctx, query, opts...)
	if res != nil {
		if err := journal.Record(context.WithoutCancel(ctx), res.Run); err != nil {
			a.logger.Warn("journal report failed", slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		return c.fail(runErr)
	}

	if *asJSON {
		if err := writeJSON(c.stdout, res); err != nil {
			return c.fail(err)
		}
		return 0
	}
	fmt.Fprintln(c.stdout, res.Report)
	if len(res.Sources) > 0 {
		fmt.Fprintln(c.stdout, "\nSources:")
		for i, s := range res.Sources {
			fmt.Fprintf(c.stdout, "[%d] %s %s\n", i+1, s.Title, s.Link)
		}
	}
	return 0
}

// --- secret ---

func (c *cli) secret(ctx context.Context, args []string) int {
	fs := c.flags("secret", "set <KEY> [value] | list | delete <KEY>")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	a, err := c.open(ctx, false)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	switch sub := fs.Arg(0); {
	case sub == "list" && fs.NArg() == 1:
		keys, err := a.store.ListSecrets(ctx)
		if err != nil {
			return c.fail(err)
		}
		for _, k := range keys {
			fmt.Fprintln(c.stdout, k)
		}
		return 0
	case sub == "delete" && fs.NArg() == 2:
		if err := a.store.DeleteSecret(ctx, fs.Arg(1)); err != nil {
			return c.fail(err)
		}
		return 0
	case sub == "set" && (fs.NArg() == 2 || fs.NArg() == 3):
		if a.vault == nil {
			return c.fail(errors.New("TASKFLOW_VAULT_KEY is not set"))
		}
		var value []byte
		if fs.NArg() == 3 {
			value = []byte(fs.Arg(2))
		} else if value, err = io.ReadAll(c.stdin); err != nil {
			return c.fail(err)
		}
		if err := a.vault.Store(ctx, fs.Arg(1), bytes.TrimRight(value, "\r\n")); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stderr, "stored secret %s\n", fs.Arg(1))
		return 0
	default:
		fs.Usage()
		return 2
	}
}

// --- serve ---

func (c *cli) serve(ctx context.Context, args []string) int {
	fs := c.flags("serve", "")
	metricsAddr := fs.String("metrics-addr", c.cfg.MetricsAddr, "metrics listen address (empty disables)")
	httpAddr := fs.String("http", "", "serve the HTTP API on this address instead of MCP over stdio")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// In stdio mode stdout carries the MCP protocol; logs go to stderr.
	a, err := c.open(ctx, false)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	a.serveMetrics(ctx, *metricsAddr)

	if *httpAddr != "" {
		srv := api.NewServer(api.Deps{Runner: a.runner, Hub: a.hub, Logger: a.logger})
		if err := srv.ListenAndServe(ctx, *httpAddr); err != nil {
			return c.fail(err)
		}
		return 0
	}

	mcp.Version = version
	srv := mcp.NewTaskflowServer(mcp.ServerDeps{Runner: a.runner, Logger: a.logger})
	a.logger.Info("mcp server listening on stdio", slog.String("db_path", c.cfg.DBPath))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return c.fail(err)
	}
	return 0
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
