package runtime

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// slidingBucket tracks call outcomes within one window slot, grounded on
// resilience/circuit_breaker.go's bucketed sliding window.
type slidingBucket struct {
	successes int
	failures  int
	startedAt time.Time
}

// circuitBreaker is an adaptive per-function-name breaker wired in front of
// Context.Call, supplementing spec.md §4.5.1's retry contract per
// SPEC_FULL.md's domain stack: calls to a function failing above
// failureThreshold over the sliding window short-circuit immediately with
// CallRetryExhausted instead of continuing to retry.
type circuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	buckets          []slidingBucket
	bucketWidth      time.Duration
	failureThreshold float64
	minSamples       int
	openUntil        time.Time
	halfOpenProbes   int
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state:            stateClosed,
		buckets:          make([]slidingBucket, 10),
		bucketWidth:      time.Second,
		failureThreshold: 0.5,
		minSamples:       10,
	}
}

func (b *circuitBreaker) currentBucket(now time.Time) *slidingBucket {
	idx := int(now.UnixNano()/int64(b.bucketWidth)) % len(b.buckets)
	bucket := &b.buckets[idx]
	if now.Sub(bucket.startedAt) >= time.Duration(len(b.buckets))*b.bucketWidth {
		bucket.successes = 0
		bucket.failures = 0
	}
	bucket.startedAt = now
	return bucket
}

// Allow reports whether a call should proceed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.state {
	case stateOpen:
		if now.After(b.openUntil) {
			b.state = stateHalfOpen
			b.halfOpenProbes = 0
			return true
		}
		return false
	case stateHalfOpen:
		return b.halfOpenProbes < 1
	default:
		return true
	}
}

// RecordResult updates the breaker with the outcome of an allowed call.
func (b *circuitBreaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	if b.state == stateHalfOpen {
		b.halfOpenProbes++
		if success {
			b.reset()
		} else {
			b.transitionToOpen(now)
		}
		return
	}

	bucket := b.currentBucket(now)
	if success {
		bucket.successes++
	} else {
		bucket.failures++
	}

	total, failures := 0, 0
	for _, bk := range b.buckets {
		total += bk.successes + bk.failures
		failures += bk.failures
	}
	if total >= b.minSamples && float64(failures)/float64(total) >= b.failureThreshold {
		b.transitionToOpen(now)
	}
}

func (b *circuitBreaker) transitionToOpen(now time.Time) {
	b.state = stateOpen
	b.openUntil = now.Add(30 * time.Second)
}

func (b *circuitBreaker) reset() {
	b.state = stateClosed
	for i := range b.buckets {
		b.buckets[i] = slidingBucket{}
	}
}

// breakerRegistry keeps one circuitBreaker per registered function name.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*circuitBreaker)}
}

func (r *breakerRegistry) get(name string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = newCircuitBreaker()
		r.breakers[name] = b
	}
	return b
}
