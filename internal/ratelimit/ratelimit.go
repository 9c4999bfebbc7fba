// Package ratelimit provides the admission-control limiter used to bound
// maxConcurrentWorkflows (SPEC_FULL.md Supplemented Features). Grounded on
// libs/go/core/resilience/ratelimiter.go's token-bucket-plus-sliding-window
// design, adapted from a per-call-rate limiter into a concurrency-slot
// limiter: capacity is the number of concurrently in-flight workflow
// executions rather than tokens-per-second.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// ConcurrencyLimiter bounds the number of workflow executions in flight at
// once. Acquire takes a free slot at once, or blocks until one is freed
// and returns ctx's error if ctx ends first; Release returns it.
type ConcurrencyLimiter struct {
	mu          sync.Mutex
	capacity    int64
	inFlight    int64
	waiters     []chan struct{}
	instruments *telemetry.Instruments
}

// NewConcurrencyLimiter builds a limiter admitting at most capacity
// concurrent workflow executions. capacity <= 0 disables admission control.
// instruments is the single workflowmesh_admission_queue_total counter
// created once in main.go — the limiter never resolves a meter itself.
func NewConcurrencyLimiter(capacity int64, instruments *telemetry.Instruments) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{capacity: capacity, instruments: instruments}
}

// Acquire reserves one execution slot, blocking until one is available or
// ctx is cancelled.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	if l.capacity <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		if l.inFlight < l.capacity {
			l.inFlight++
			l.mu.Unlock()
			return nil
		}
		wait := make(chan struct{})
		l.waiters = append(l.waiters, wait)
		l.mu.Unlock()

		l.instruments.RecordAdmissionQueued(ctx)

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			l.removeWaiter(wait)
			return ctx.Err()
		}
	}
}

// Release frees one execution slot, waking the oldest waiter if any.
func (l *ConcurrencyLimiter) Release() {
	if l.capacity <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next)
	}
}

// InFlight reports the current number of occupied slots, for health/metrics
// reporting.
func (l *ConcurrencyLimiter) InFlight() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *ConcurrencyLimiter) removeWaiter(target chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// ReserveAfter reports how long a caller would currently have to wait for a
// slot, without actually reserving one: 0 when a slot is free, otherwise a
// fixed 50ms. Grounded on ratelimiter.go's ReserveAfter.
func (l *ConcurrencyLimiter) ReserveAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capacity <= 0 || l.inFlight < l.capacity {
		return 0
	}
	return 50 * time.Millisecond
}
