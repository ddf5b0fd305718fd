package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/telemetry"
)

// Config holds all taskflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	MaxConcurrency int    `json:"max_concurrency"`
	MetricsAddr    string `json:"metrics_addr"`
	AutoWake       bool   `json:"auto_wake"`

	// BreakerThreshold is the number of consecutive failed attempts of a
	// task, across runs, that opens its circuit. Zero disables breakers.
	BreakerThreshold int    `json:"breaker_threshold"`
	BreakerCooldown  string `json:"breaker_cooldown"`

	OpenAIKey     string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIModel   string `json:"openai_model"`
	SearchURL     string `json:"search_url"`
	SearchKey     string `json:"search_key"`

	// VaultKey unlocks the secrets vault. It is read from the environment only.
	VaultKey string `json:"-"`

	Telemetry telemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(taskflowDir(), "taskflow.db"),
		LogLevel:    "info",
		MetricsAddr: ":9464",

		BreakerThreshold: 5,
		BreakerCooldown:  "30s",
		Telemetry: telemetry.Config{
			ServiceName: "taskflow",
			SampleRate:  1,
		},
	}
}

// taskflowDir is $TASKFLOW_HOME, falling back to ~/.taskflow.
func taskflowDir() string {
	if dir := os.Getenv("TASKFLOW_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskflow"
	}
	return filepath.Join(home, ".taskflow")
}

func settingsPath() string {
	return filepath.Join(taskflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TASKFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TASKFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TASKFLOW_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	// An empty address disables the metrics listener.
	if v, ok := os.LookupEnv("TASKFLOW_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("TASKFLOW_AUTO_WAKE"); v != "" {
		cfg.AutoWake = v == "true" || v == "1"
	}
	if v := os.Getenv("TASKFLOW_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerThreshold = n
		}
	}
	if v := os.Getenv("TASKFLOW_BREAKER_COOLDOWN"); v != "" {
		cfg.BreakerCooldown = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("TASKFLOW_OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("TASKFLOW_SEARCH_URL"); v != "" {
		cfg.SearchURL = v
	}
	if v := os.Getenv("TASKFLOW_SEARCH_KEY"); v != "" {
		cfg.SearchKey = v
	}
	if v := os.Getenv("TASKFLOW_VAULT_KEY"); v != "" {
		cfg.VaultKey = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}

	return cfg
}

// breakers builds the circuit breaker registry shared by every run, or nil
// when breakers are disabled. A cooldown that does not parse falls back to
// the default.
func (c Config) breakers() *engine.CircuitBreakerRegistry {
	if c.BreakerThreshold <= 0 {
		return nil
	}
	bc := engine.DefaultCircuitBreakerConfig()
	bc.FailureThreshold = c.BreakerThreshold
	if d, err := time.ParseDuration(c.BreakerCooldown); err == nil && d > 0 {
		bc.Cooldown = d
	}
	return engine.NewCircuitBreakerRegistry(bc)
}
