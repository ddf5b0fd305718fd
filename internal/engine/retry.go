package engine

import (
	"context"
	"errors"
	"time"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// BackoffStrategy shapes the delay between retry attempts.
type BackoffStrategy string

const (
	BackoffNone        BackoffStrategy = "none"
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// Backoff configures the wait before each retry.
type Backoff struct {
	Strategy BackoffStrategy
	Delay    time.Duration
	// MaxDelay caps the computed delay; zero means no cap.
	MaxDelay time.Duration
}

// BackoffFromPolicy converts the retry block of a declarative task.
// A policy without delay yields nil (retry immediately).
func BackoffFromPolicy(policy *schema.RetryPolicy) (*Backoff, error) {
	if policy == nil || policy.Delay == "" {
		return nil, nil
	}
	delay, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid retry delay %q", policy.Delay).WithCause(err)
	}
	b := &Backoff{Strategy: BackoffStrategy(policy.Backoff), Delay: delay}
	if b.Strategy == "" {
		b.Strategy = BackoffConstant
	}
	if policy.MaxDelay != "" {
		b.MaxDelay, err = time.ParseDuration(policy.MaxDelay)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid retry max_delay %q", policy.MaxDelay).WithCause(err)
		}
	}
	return b, nil
}

// IsRetryableError classifies whether a failed attempt should be retried.
// Timeouts are retryable; cancellation and TaskflowErrors with
// non-retryable codes are not. Anything else is retried and left to the
// retry count to bound.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var tfErr *schema.TaskflowError
	if errors.As(err, &tfErr) {
		return tfErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	return true
}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(b *Backoff, attempt int) time.Duration {
	if b == nil || b.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch b.Strategy {
	case BackoffNone:
		return 0
	case BackoffExponential:
		delay = b.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if b.MaxDelay > 0 && delay >= b.MaxDelay {
				break
			}
		}
	case BackoffLinear:
		delay = b.Delay * time.Duration(attempt+1)
	default:
		delay = b.Delay
	}

	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled or
// halt is closed.
func WaitForBackoff(ctx context.Context, halt <-chan struct{}, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-halt:
		return schema.NewError(schema.ErrCodeAborted, "workflow aborted during backoff")
	}
}
