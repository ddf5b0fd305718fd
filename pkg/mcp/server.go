package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/store"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// ServerDeps holds the dependencies for creating a TaskflowServer.
type ServerDeps struct {
	Runner *runner.Runner
	Logger *slog.Logger
}

// TaskflowServer exposes the workflow runner as MCP tools.
type TaskflowServer struct {
	runner    *runner.Runner
	store     store.Store
	logger    *slog.Logger
	sessions  *agentSessions
	notifier  runSink
	mcpServer *server.MCPServer
}

// NewTaskflowServer creates a TaskflowServer with all 5 tools registered.
func NewTaskflowServer(deps ServerDeps) *TaskflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &TaskflowServer{
		runner:   deps.Runner,
		logger:   logger,
		sessions: newAgentSessions(),
	}
	if deps.Runner != nil {
		s.store = deps.Runner.Store()
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.drop(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"taskflow",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Taskflow runs declarative task-graph workflows. Use taskflow.validate to check a definition, taskflow.run to execute one, taskflow.status to inspect a past run and taskflow.query to list runs or journal events and taskflow.diagram to draw a workflow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = &sessionSink{srv: mcpSrv, sessions: s.sessions}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *TaskflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *TaskflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *TaskflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("taskflow.run",
		mcp.WithDescription("Run a workflow definition and return its run report"),
		mcp.WithObject("definition", mcp.Description("Workflow definition object (name, start, tasks, ...)")),
		mcp.WithString("path", mcp.Description("Path of a YAML or JSON definition file, used when definition is omitted")),
		mcp.WithObject("input", mcp.Description("Data passed to the start task (default: the definition's input)")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent, notified when the run finishes")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("taskflow.validate",
		mcp.WithDescription("Validate a workflow definition without running it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("taskflow.status",
		mcp.WithDescription("Get a recorded run and its journal"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
		mcp.WithNumber("since", mcp.Description("Only return events with a greater sequence number")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("taskflow.query",
		mcp.WithDescription("Query recorded runs or journal events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow, status, since, limit, offset, event_type, run_id, task)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("taskflow.diagram",
		mcp.WithDescription("Draw a workflow as ASCII art, a Mermaid flowchart or a PNG image, optionally with the task statuses of a recorded run"),
		mcp.WithObject("definition", mcp.Description("Workflow definition object")),
		mcp.WithString("path", mcp.Description("Path of a YAML or JSON definition file, used when definition is omitted")),
		mcp.WithString("run_id", mcp.Description("Recorded run whose task statuses are overlaid")),
		mcp.WithString("format",
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format (default: ascii)"),
		),
	)
}
