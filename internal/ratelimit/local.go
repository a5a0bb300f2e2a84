package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalBucket is an in-process token bucket for single-instance deployments
// without Redis. Semantics match RedisBucket.
type LocalBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucketState
	capacity int
	refill   float64 // tokens per second
	now      func() time.Time
}

type bucketState struct {
	tokens float64
	last   time.Time
}

// NewLocalBucket constructs an in-process bucket with the provided capacity
// and refill rate.
func NewLocalBucket(capacity int, refillPerSecond float64) *LocalBucket {
	return &LocalBucket{
		buckets:  make(map[string]*bucketState),
		capacity: capacity,
		refill:   refillPerSecond,
		now:      time.Now,
	}
}

// Allow consumes a single token for the given key if available.
func (b *LocalBucket) Allow(_ context.Context, key string) (bool, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, ok := b.buckets[key]
	if !ok {
		state = &bucketState{tokens: float64(b.capacity), last: now}
		b.buckets[key] = state
	}

	elapsed := now.Sub(state.last).Seconds()
	if elapsed > 0 {
		state.tokens += elapsed * b.refill
		if state.tokens > float64(b.capacity) {
			state.tokens = float64(b.capacity)
		}
	}
	state.last = now

	if state.tokens < 1 {
		return false, state.tokens, nil
	}
	state.tokens--
	return true, state.tokens, nil
}
