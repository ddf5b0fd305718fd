package engine

import (
	"sync"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// CircuitState is the position of one task's breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half_open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig tunes every breaker of a registry.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed attempts that
	// opens a breaker. Values below one mean one.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects attempts before it lets
	// probes through.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe attempts admitted while half-open.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig opens after five straight failures and probes
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

type breaker struct {
	state    CircuitState
	failures int
	openedAt time.Time
	probes   int
}

// breakerTable is the state shared by a registry and its scopes.
type breakerTable struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      CircuitBreakerConfig
	now      func() time.Time
}

// CircuitBreakerRegistry keeps one breaker per task. A registry outlives
// engines: pass the same one to every run so a task that keeps failing is
// rejected across runs until its cooldown passes.
type CircuitBreakerRegistry struct {
	table  *breakerTable
	prefix string
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(cfg CircuitBreakerConfig) *CircuitBreakerRegistry {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.HalfOpenMax = max(cfg.HalfOpenMax, 1)
	return &CircuitBreakerRegistry{table: &breakerTable{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		now:      time.Now,
	}}
}

// Scope returns a view of r whose breakers are keyed under name, so tasks of
// different workflows that share a task name trip independently.
func (r *CircuitBreakerRegistry) Scope(name string) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{table: r.table, prefix: r.prefix + name + "/"}
}

// Allow admits or rejects the next attempt of task. A rejection is a
// non-retryable CIRCUIT_OPEN error.
func (r *CircuitBreakerRegistry) Allow(task string) error {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.lookup(r.prefix + task)
	now := t.now()
	t.cool(b, now)

	switch b.state {
	case CircuitOpen:
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open after %d consecutive failures", b.failures).
			WithTask(task).
			WithDetails(map[string]any{
				"consecutive_failures": b.failures,
				"retry_in":             b.openedAt.Add(t.cfg.Cooldown).Sub(now).String(),
			})
	case CircuitHalfOpen:
		if b.probes >= t.cfg.HalfOpenMax {
			return schema.NewError(schema.ErrCodeCircuitOpen, "circuit half-open, probe already in flight").WithTask(task)
		}
		b.probes++
	}
	return nil
}

// Succeeded closes the breaker of task.
func (r *CircuitBreakerRegistry) Succeeded(task string) {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.lookup(r.prefix + task) = breaker{}
}

// Failed counts a failed attempt of task and returns the resulting state.
// A failed probe reopens the breaker at once.
func (r *CircuitBreakerRegistry) Failed(task string) CircuitState {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.lookup(r.prefix + task)
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= t.cfg.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = t.now()
		b.probes = 0
	}
	return b.state
}

// State reports the breaker of task, moving an open breaker whose cooldown
// has passed to half-open.
func (r *CircuitBreakerRegistry) State(task string) CircuitState {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.lookup(r.prefix + task)
	t.cool(b, t.now())
	return b.state
}

// Stats describes the breaker of task for events and logs.
func (r *CircuitBreakerRegistry) Stats(task string) map[string]any {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.lookup(r.prefix + task)
	return map[string]any{
		"task":                 task,
		"state":                b.state.String(),
		"consecutive_failures": b.failures,
		"failure_threshold":    t.cfg.FailureThreshold,
		"cooldown":             t.cfg.Cooldown.String(),
	}
}

// lookup returns the breaker for key, creating a closed one. t.mu is held.
func (t *breakerTable) lookup(key string) *breaker {
	b, ok := t.breakers[key]
	if !ok {
		b = &breaker{}
		t.breakers[key] = b
	}
	return b
}

// cool moves b from open to half-open once the cooldown has passed. t.mu is held.
func (t *breakerTable) cool(b *breaker, now time.Time) {
	if b.state == CircuitOpen && now.Sub(b.openedAt) >= t.cfg.Cooldown {
		b.state = CircuitHalfOpen
		b.probes = 0
	}
}
