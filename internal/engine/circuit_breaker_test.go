package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// fakeClock lets breaker tests step past the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreakers(threshold int, cooldown time.Duration) (*CircuitBreakerRegistry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		HalfOpenMax:      1,
	})
	r.table.now = clock.now
	return r, clock
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	assert.NoError(t, r.Allow("search"))
	assert.Equal(t, CircuitClosed, r.State("search"))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	r, _ := newTestBreakers(3, 10*time.Second)

	r.Failed("search")
	r.Failed("search")
	assert.Equal(t, CircuitClosed, r.State("search"))
	assert.Equal(t, CircuitOpen, r.Failed("search"))

	err := r.Allow("search")
	require.Error(t, err)
	var tfErr *schema.TaskflowError
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, tfErr.Code)
	assert.Equal(t, "search", tfErr.Task)
	assert.Equal(t, "10s", tfErr.Details["retry_in"])
	assert.False(t, IsRetryableError(err))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	r, _ := newTestBreakers(3, 10*time.Second)

	r.Failed("plan")
	r.Failed("plan")
	r.Succeeded("plan")

	r.Failed("plan")
	r.Failed("plan")
	assert.Equal(t, CircuitClosed, r.State("plan"))
	r.Failed("plan")
	assert.Equal(t, CircuitOpen, r.State("plan"))
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	r, clock := newTestBreakers(2, time.Minute)
	r.Failed("write")
	r.Failed("write")
	require.Error(t, r.Allow("write"))

	clock.advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, r.State("write"))

	require.NoError(t, r.Allow("write"))
	assert.Error(t, r.Allow("write"), "one probe at a time while half-open")

	r.Succeeded("write")
	assert.Equal(t, CircuitClosed, r.State("write"))
	assert.NoError(t, r.Allow("write"))
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	r, clock := newTestBreakers(2, time.Minute)
	r.Failed("write")
	r.Failed("write")

	clock.advance(2 * time.Minute)
	require.NoError(t, r.Allow("write"))
	assert.Equal(t, CircuitOpen, r.Failed("write"))

	clock.advance(30 * time.Second)
	assert.Error(t, r.Allow("write"), "the cooldown restarts from the failed probe")
	clock.advance(30 * time.Second)
	assert.NoError(t, r.Allow("write"))
}

func TestCircuitBreaker_PerTaskIsolation(t *testing.T) {
	r, _ := newTestBreakers(1, time.Minute)
	r.Failed("a")
	assert.Equal(t, CircuitOpen, r.State("a"))
	assert.Equal(t, CircuitClosed, r.State("b"))
	assert.NoError(t, r.Allow("b"))
}

func TestCircuitBreaker_Scopes(t *testing.T) {
	r, _ := newTestBreakers(1, time.Minute)
	etl := r.Scope("etl")
	report := r.Scope("report")

	etl.Failed("fetch")
	assert.Equal(t, CircuitOpen, etl.State("fetch"))
	assert.Equal(t, CircuitClosed, report.State("fetch"), "same task name, other workflow")
	assert.Equal(t, CircuitClosed, r.State("fetch"))

	again := r.Scope("etl")
	assert.Error(t, again.Allow("fetch"), "scopes of one name share state")
}

func TestCircuitBreaker_ConfigDefaults(t *testing.T) {
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{Cooldown: time.Second})
	assert.Equal(t, CircuitOpen, r.Failed("x"), "threshold is at least one")
}

func TestCircuitBreaker_Stats(t *testing.T) {
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	r.Failed("analyze")
	r.Failed("analyze")

	stats := r.Stats("analyze")
	assert.Equal(t, "analyze", stats["task"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 2, stats["consecutive_failures"])
	assert.Equal(t, 5, stats["failure_threshold"])
	assert.Equal(t, "30s", stats["cooldown"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
	assert.Equal(t, "unknown", CircuitState(-1).String())
}
