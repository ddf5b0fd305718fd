package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/trendy-design/taskflow/internal/actions"
	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/flow"
	"github.com/trendy-design/taskflow/internal/logging"
	"github.com/trendy-design/taskflow/internal/metrics"
	"github.com/trendy-design/taskflow/internal/runner"
	"github.com/trendy-design/taskflow/internal/secrets"
	"github.com/trendy-design/taskflow/internal/store"
	"github.com/trendy-design/taskflow/internal/streaming"
	"github.com/trendy-design/taskflow/internal/telemetry"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg     Config
	logger  *slog.Logger
	store   *store.LibSQLStore
	metrics *metrics.Collector
	hub     *streaming.MemoryHub
	tracing *telemetry.Provider
	vault   *secrets.AESVault
	runner  *runner.Runner
}

type appOptions struct {
	noStore bool
	logTo   io.Writer
}

func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logging.New(opts.logTo, level),
		metrics: metrics.NewCollector(nil),
		hub:     streaming.NewMemoryHub(streaming.WithBuffer(1024)),
	}

	a.tracing, err = telemetry.Init(ctx, withVersion(cfg.Telemetry), a.logger)
	if err != nil {
		return nil, err
	}

	if !opts.noStore {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		a.store, err = store.Open(ctx, cfg.DBPath)
		if err != nil {
			_ = a.tracing.Shutdown(ctx)
			return nil, err
		}
	}

	copts := []flow.Option{flow.WithLogger(a.logger)}
	if a.store != nil && cfg.VaultKey != "" {
		if a.vault, err = openVault(a.store, cfg); err != nil {
			a.Close()
			return nil, err
		}
		copts = append(copts, flow.WithSecrets(a.vault))
	}
	compiler, err := flow.NewDefaultCompiler(actions.HTTPConfig{}, copts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	ropts := []runner.Option{
		runner.WithLogger(a.logger),
		runner.WithMetrics(a.metrics),
		runner.WithHub(a.hub),
		runner.WithEngineOptions(a.engineOptions()...),
	}
	if b := cfg.breakers(); b != nil {
		ropts = append(ropts, runner.WithCircuitBreakers(b))
	}
	if a.store != nil {
		ropts = append(ropts, runner.WithStore(a.store))
	}
	a.runner = runner.New(compiler, ropts...)
	return a, nil
}

// openVault derives the vault key from cfg.VaultKey and a salt kept next
// to the database, created on first use.
func openVault(s *store.LibSQLStore, cfg Config) (*secrets.AESVault, error) {
	saltPath := filepath.Join(filepath.Dir(cfg.DBPath), "vault.salt")
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate vault salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write vault salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}
	return secrets.NewAESVault(s, secrets.VaultConfig{Passphrase: cfg.VaultKey, Salt: salt})
}

func withVersion(c telemetry.Config) telemetry.Config {
	c.ServiceVersion = version
	return c
}

// engineOptions are applied to every engine the app starts.
func (a *app) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithAutoWake(a.cfg.AutoWake),
		engine.WithTracer(a.tracing.Tracer("github.com/trendy-design/taskflow")),
	}
	if a.cfg.MaxConcurrency > 0 {
		opts = append(opts, engine.WithMaxConcurrency(a.cfg.MaxConcurrency))
	}
	return opts
}

// Close releases the store and flushes spans.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// serveMetrics exposes /metrics and /healthz on addr until ctx is done.
// An empty addr disables the listener.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}
