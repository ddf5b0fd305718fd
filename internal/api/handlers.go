package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/trendy-design/taskflow/internal/diagram"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/pkg/schema"
)

type runRequest struct {
	Definition *schema.WorkflowDefinition `json:"definition"`
	Input      any                        `json:"input,omitempty"`
}

type diagramRequest struct {
	Definition *schema.WorkflowDefinition `json:"definition"`
	RunID      string                     `json:"run_id,omitempty"`
	Format     string                     `json:"format,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// handleRun runs a definition synchronously and returns the run result.
// An invalid definition answers 422; task failures are part of the
// returned report.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner is not configured")
		return
	}
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Definition == nil {
		writeError(w, http.StatusBadRequest, "definition is required")
		return
	}

	if result := s.runner.Validate(body.Definition); !result.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  result.ToError().Error(),
			"errors": result.Errors,
		})
		return
	}

	res, err := s.runner.Run(r.Context(), body.Definition, body.Input)
	if err != nil {
		writeTaskflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleValidate reports every issue of a definition.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner is not configured")
		return
	}
	var def schema.WorkflowDefinition
	if !decodeBody(w, r, &def) {
		return
	}
	result := s.runner.Validate(&def)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleDiagram draws a definition, optionally overlaid with a recorded run.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	var body diagramRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Definition == nil {
		writeError(w, http.StatusBadRequest, "definition is required")
		return
	}

	var report *engine.RunReport
	if body.RunID != "" {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "run journal is not configured")
			return
		}
		run, err := s.store.GetRun(r.Context(), body.RunID)
		if err != nil {
			writeTaskflowError(w, err)
			return
		}
		if report, err = diagram.DecodeReport(run.Report); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	model, err := diagram.Build(body.Definition, report)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := diagram.Render(r.Context(), model, body.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch body.Format {
	case string(diagram.FormatPNG):
		w.Header().Set("Content-Type", "image/png")
	case string(diagram.FormatSVG):
		w.Header().Set("Content-Type", "image/svg+xml")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	_, _ = w.Write(out)
}

// handleListRuns lists recorded runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Workflow: q.Get("workflow"),
		Status:   schema.RunStatus(q.Get("status")),
		Since:    queryTime(r, "since"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeTaskflowError(w, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": len(runs)})
}

// handleGetRun returns a run and its journal after the "since" sequence.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeTaskflowError(w, err)
		return
	}
	events, err := s.store.GetEvents(r.Context(), id, int64(queryInt(r, "since", 0)))
	if err != nil {
		writeTaskflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "events": events})
}

// handleDeleteRun removes a run and its journal.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeTaskflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents lists journal events of one type across runs.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	events, err := s.store.GetEventsByType(r.Context(), eventType, store.EventFilter{
		RunID: q.Get("run_id"),
		Task:  q.Get("task"),
		Since: queryTime(r, "since"),
		Limit: queryInt(r, "limit", 100),
	})
	if err != nil {
		writeTaskflowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run journal is not configured")
		return false
	}
	return true
}
