package mcp

import (
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/trendy-design/taskflow/internal/runner"
)

// runSink delivers a finished run summary to the agent that started it.
type runSink interface {
	runFinished(agentID string, res *runner.Result) error
}

// agentSessions remembers the MCP session each agent last called
// taskflow.run from. An agent reconnecting replaces its old session.
type agentSessions struct {
	mu      sync.RWMutex
	byAgent map[string]string
}

func newAgentSessions() *agentSessions {
	return &agentSessions{byAgent: make(map[string]string)}
}

func (a *agentSessions) bind(agentID, sessionID string) {
	a.mu.Lock()
	a.byAgent[agentID] = sessionID
	a.mu.Unlock()
}

func (a *agentSessions) lookup(agentID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sid, ok := a.byAgent[agentID]
	return sid, ok
}

// drop forgets every agent bound to sessionID.
func (a *agentSessions) drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for agent, sid := range a.byAgent {
		if sid == sessionID {
			delete(a.byAgent, agent)
		}
	}
}

// sessionSink sends run summaries as MCP logging notifications.
type sessionSink struct {
	srv      *server.MCPServer
	sessions *agentSessions
}

func (n *sessionSink) runFinished(agentID string, res *runner.Result) error {
	sid, ok := n.sessions.lookup(agentID)
	if !ok {
		return nil
	}
	err := n.srv.SendNotificationToSpecificClient(sid, "notifications/message", runNotification(res))
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.drop(sid)
		return nil
	}
	return err
}

func runNotification(res *runner.Result) map[string]any {
	level := "info"
	data := map[string]any{
		"run_id":   res.RunID,
		"workflow": res.Workflow,
	}
	if res.Report != nil {
		data["status"] = res.Report.Status
		data["duration_ms"] = res.Report.Duration.Milliseconds()
		if n := len(res.Report.Failures); n > 0 {
			level = "warning"
			failed := make([]string, 0, n)
			for _, f := range res.Report.Failures {
				failed = append(failed, f.Task)
			}
			data["failed_tasks"] = failed
		}
	}
	return map[string]any{"level": level, "logger": "taskflow", "data": data}
}
