package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/trendy-design/taskflow/internal/diagram"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/pkg/schema"
)

// handleRun compiles and runs a definition passed inline or by path.
func (s *TaskflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}
	agentID := req.GetString("agent_id", "")
	if agentID != "" {
		s.captureSession(ctx, agentID)
	}

	var input any
	if in := mcp.ParseStringMap(req, "input", nil); in != nil {
		input = in
	}

	var (
		res    *runner.Result
		runErr error
	)
	if defRaw := mcp.ParseStringMap(req, "definition", nil); defRaw != nil {
		def, err := decodeDefinition(defRaw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, runErr = s.runner.Run(ctx, def, input)
	} else if path := req.GetString("path", ""); path != "" {
		res, runErr = s.runner.RunFile(ctx, path, input)
	} else {
		return mcp.NewToolResultError("one of definition or path is required"), nil
	}
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}

	if agentID != "" {
		s.notifyFinished(ctx, agentID, res)
	}
	return marshalResult(res)
}

// handleValidate reports every issue of a definition.
func (s *TaskflowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	def, err := decodeDefinition(defRaw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.runner.Validate(def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleStatus returns a recorded run with its journal.
func (s *TaskflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("run journal is not configured"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	events, err := s.store.GetEvents(ctx, runID, int64(req.GetFloat("since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"run": run, "events": events})
}

// handleQuery lists runs or events based on filters.
func (s *TaskflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("run journal is not configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram draws a definition, optionally overlaid with a recorded run.
func (s *TaskflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", diagram.FormatASCII)
	if format != diagram.FormatASCII && format != diagram.FormatMermaid && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var def *schema.WorkflowDefinition
	if defRaw := mcp.ParseStringMap(req, "definition", nil); defRaw != nil {
		d, err := decodeDefinition(defRaw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def = d
	} else if path := req.GetString("path", ""); path != "" {
		d, err := flow.LoadFile(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def = d
	} else {
		return mcp.NewToolResultError("one of definition or path is required"), nil
	}

	var report *engine.RunReport
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("run journal is not configured"), nil
		}
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		if report, err = diagram.DecodeReport(run.Report); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	model, err := diagram.Build(def, report)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	if format == "image" {
		png, err := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
	out, err := diagram.Render(ctx, model, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// --- Query helpers ---

func (s *TaskflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if wf, ok := filter["workflow"].(string); ok {
		rf.Workflow = wf
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = schema.RunStatus(status)
	}
	rf.Since = extractTime(filter, "since")

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *TaskflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
		Since: extractTime(filter, "since"),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if task, ok := filter["task"].(string); ok {
		ef.Task = task
	}

	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// Without an event type the journal is read per run.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// decodeDefinition converts a JSON object argument into a WorkflowDefinition.
func decodeDefinition(raw map[string]any) (*schema.WorkflowDefinition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return &def, nil
}

func (s *TaskflowServer) notifyFinished(ctx context.Context, agentID string, res *runner.Result) {
	if err := s.notifier.runFinished(agentID, res); err != nil {
		s.logger.WarnContext(ctx, "agent notification failed",
			slog.String("agent_id", agentID),
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime parses an RFC 3339 filter value; anything else is ignored.
func extractTime(filter map[string]any, key string) *time.Time {
	s, ok := filter[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *TaskflowServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.bind(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
