package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendy-design/taskflow/pkg/schema"
)

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("search api returned 502")))
	assert.True(t, IsRetryableError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
}

func TestIsRetryableError_TaskflowError(t *testing.T) {
	for _, code := range []string{schema.ErrCodeExecution, schema.ErrCodeTimeout, schema.ErrCodeStore, schema.ErrCodeTaskFailed} {
		assert.True(t, IsRetryableError(schema.NewError(code, "x")), code)
	}
	for _, code := range []string{
		schema.ErrCodeValidation,
		schema.ErrCodeNotFound,
		schema.ErrCodeNonRetryable,
		schema.ErrCodeCircuitOpen,
		schema.ErrCodeCancelled,
		schema.ErrCodeAborted,
	} {
		assert.False(t, IsRetryableError(schema.NewError(code, "x")), code)
	}

	wrapped := fmt.Errorf("attempt: %w", schema.NewError(schema.ErrCodeNonRetryable, "bad key"))
	assert.False(t, IsRetryableError(wrapped))
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		name    string
		backoff *Backoff
		attempt int
		want    time.Duration
	}{
		{"nil", nil, 3, 0},
		{"none", &Backoff{Strategy: BackoffNone, Delay: time.Second}, 1, 0},
		{"constant", &Backoff{Strategy: BackoffConstant, Delay: 100 * time.Millisecond}, 4, 100 * time.Millisecond},
		{"linear", &Backoff{Strategy: BackoffLinear, Delay: 100 * time.Millisecond}, 2, 300 * time.Millisecond},
		{"exponential", &Backoff{Strategy: BackoffExponential, Delay: 100 * time.Millisecond}, 3, 800 * time.Millisecond},
		{"exponential capped", &Backoff{Strategy: BackoffExponential, Delay: 100 * time.Millisecond, MaxDelay: time.Second}, 30, time.Second},
		{"linear capped", &Backoff{Strategy: BackoffLinear, Delay: time.Second, MaxDelay: 1500 * time.Millisecond}, 5, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeBackoff(tt.backoff, tt.attempt))
		})
	}
}

func TestBackoffFromPolicy(t *testing.T) {
	b, err := BackoffFromPolicy(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = BackoffFromPolicy(&schema.RetryPolicy{Max: 3, Backoff: "exponential", Delay: "50ms", MaxDelay: "2s"})
	require.NoError(t, err)
	assert.Equal(t, &Backoff{Strategy: BackoffExponential, Delay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}, b)

	b, err = BackoffFromPolicy(&schema.RetryPolicy{Max: 1, Delay: "1s"})
	require.NoError(t, err)
	assert.Equal(t, BackoffConstant, b.Strategy)

	_, err = BackoffFromPolicy(&schema.RetryPolicy{Max: 1, Delay: "later"})
	assert.Error(t, err)
	_, err = BackoffFromPolicy(&schema.RetryPolicy{Max: 1, Delay: "1s", MaxDelay: "x"})
	assert.Error(t, err)
}

func TestWaitForBackoff(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), nil, 0))

	start := time.Now()
	assert.NoError(t, WaitForBackoff(context.Background(), nil, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, nil, time.Hour), context.Canceled)

	halt := make(chan struct{})
	close(halt)
	err := WaitForBackoff(context.Background(), halt, time.Hour)
	assert.True(t, schema.HasCode(err, schema.ErrCodeAborted))
}
