package engine

import (
	"context"
	"sync/atomic"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// LimiterMetrics tracks limiter operational metrics.
type LimiterMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// Limiter bounds how many task execute calls run at once. It limits
// attempts, not branches: a branch waiting on its successors holds no slot,
// so wide fan-outs cannot deadlock. A nil *Limiter is unbounded.
// One Limiter may be shared by several engines.
type Limiter struct {
	sem     chan struct{}
	metrics LimiterMetrics
}

// NewLimiter creates a limiter with the given capacity; size <= 0 returns
// nil (unbounded).
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		return nil
	}
	return &Limiter{sem: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free, ctx is done or halt is closed. The
// returned release must be called exactly once with the attempt's outcome.
func (l *Limiter) Acquire(ctx context.Context, halt <-chan struct{}) (func(err error, panicked bool), error) {
	if l == nil {
		return func(error, bool) {}, nil
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "cancelled while waiting for an execution slot").WithCause(ctx.Err())
	case <-halt:
		return nil, schema.NewError(schema.ErrCodeAborted, "workflow aborted while waiting for an execution slot")
	}
	atomic.AddInt64(&l.metrics.Active, 1)

	var released atomic.Bool
	return func(err error, panicked bool) {
		if !released.CompareAndSwap(false, true) {
			return
		}
		switch {
		case panicked:
			atomic.AddInt64(&l.metrics.Panics, 1)
			atomic.AddInt64(&l.metrics.Failed, 1)
		case err != nil:
			atomic.AddInt64(&l.metrics.Failed, 1)
		default:
			atomic.AddInt64(&l.metrics.Completed, 1)
		}
		atomic.AddInt64(&l.metrics.Active, -1)
		<-l.sem
	}, nil
}

// Capacity returns the slot count, 0 for an unbounded limiter.
func (l *Limiter) Capacity() int {
	if l == nil {
		return 0
	}
	return cap(l.sem)
}

// Metrics returns a snapshot of the limiter metrics.
func (l *Limiter) Metrics() LimiterMetrics {
	if l == nil {
		return LimiterMetrics{}
	}
	return LimiterMetrics{
		Active:    atomic.LoadInt64(&l.metrics.Active),
		Completed: atomic.LoadInt64(&l.metrics.Completed),
		Failed:    atomic.LoadInt64(&l.metrics.Failed),
		Panics:    atomic.LoadInt64(&l.metrics.Panics),
	}
}
