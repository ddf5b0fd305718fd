// Package api serves the workflow runner over HTTP: JSON endpoints for
// running, validating and drawing workflows, the run journal, and
// Server-Sent Event streams of live runs.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
)

// maxBodyBytes bounds request bodies carrying definitions.
const maxBodyBytes = 4 << 20

// Deps holds the dependencies for the API server.
type Deps struct {
	Runner *runner.Runner
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	runner *runner.Runner
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger
}

// NewServer creates a Server. Journal endpoints answer 503 when the runner
// has no store, stream endpoints when there is no hub.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &Server{runner: deps.Runner, hub: deps.Hub, logger: deps.Logger}
	if deps.Runner != nil {
		s.store = deps.Runner.Store()
	}
	return s
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Workflows.
	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/diagram", s.handleDiagram)

	// Journal.
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
