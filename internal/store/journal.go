package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// Journal is an engine observer that records a run and its lifecycle
// events in a Store. Writes are synchronous; failures are logged and never
// interrupt the run.
type Journal struct {
	store    Store
	workflow string
	logger   *slog.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger used to report write failures.
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// NewJournal creates a journal recording runs of the named workflow.
func NewJournal(s Store, workflow string, opts ...JournalOption) *Journal {
	j := &Journal{store: s, workflow: workflow, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) OnEvent(ctx context.Context, ev engine.LifecycleEvent) {
	ctx = context.WithoutCancel(ctx)

	if ev.Type == schema.EventRunStarted {
		run := &Run{
			ID:        ev.RunID,
			Workflow:  j.workflow,
			StartTask: ev.Task,
			CreatedAt: ev.Timestamp,
		}
		if input, ok := ev.Data["input"]; ok {
			run.Input = j.marshal(input)
		}
		if err := j.store.CreateRun(ctx, run); err != nil && !schema.HasCode(err, schema.ErrCodeConflict) {
			j.failed(ctx, ev, err)
			return
		}
	}

	event := &Event{
		RunID:     ev.RunID,
		Type:      ev.Type,
		Task:      ev.Task,
		Attempt:   ev.Attempt,
		Status:    string(ev.Status),
		Timestamp: ev.Timestamp,
	}
	if payload := eventPayload(ev); len(payload) > 0 {
		event.Payload = j.marshal(payload)
	}
	if err := j.store.AppendEvent(ctx, event); err != nil {
		j.failed(ctx, ev, err)
		return
	}

	switch ev.Type {
	case schema.EventRunCompleted, schema.EventRunAborted:
		status := schema.RunStatusAborted
		if s, ok := ev.Data["status"].(string); ok && ev.Type == schema.EventRunCompleted {
			status = schema.RunStatus(s)
		}
		if err := j.store.FinishRun(ctx, ev.RunID, RunUpdate{Status: status, CompletedAt: ev.Timestamp}); err != nil {
			j.failed(ctx, ev, err)
		}
	}
}

// Record stores the final report of a run. It is called after Start
// returns, once the report is complete.
func (j *Journal) Record(ctx context.Context, report *engine.RunReport) error {
	if report == nil {
		return nil
	}
	var failures []string
	for _, f := range report.Failures {
		if f.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Task, f.Err))
		}
	}
	return j.store.FinishRun(ctx, report.RunID, RunUpdate{
		Status:      report.Status,
		Report:      j.marshal(report),
		Error:       strings.Join(failures, "; "),
		CompletedAt: time.Now().UTC(),
	})
}

func (j *Journal) marshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		j.logger.Warn("journal value is not JSON encodable", slog.String("error", err.Error()))
		return nil
	}
	return raw
}

func (j *Journal) failed(ctx context.Context, ev engine.LifecycleEvent, err error) {
	j.logger.WarnContext(ctx, "journal write failed",
		slog.String("run_id", ev.RunID),
		slog.String("event", ev.Type),
		slog.String("error", err.Error()),
	)
}

func eventPayload(ev engine.LifecycleEvent) map[string]any {
	payload := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		payload[k] = v
	}
	if ev.Duration > 0 {
		payload["duration_ms"] = ev.Duration.Milliseconds()
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}
	return payload
}
