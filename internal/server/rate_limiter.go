package server

import (
	"sync"
	"time"
)

// tokenBucket throttles inbound frames for a single connection. It refills
// capacity tokens every interval, continuously.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newTokenBucket(capacity int, interval time.Duration) *tokenBucket {
	capacity, interval = sanitizeBucket(capacity, interval)

	return &tokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		perSec:   float64(capacity) / interval.Seconds(),
		interval: interval,
		last:     time.Now(),
		now:      time.Now,
	}
}

func sanitizeBucket(capacity int, interval time.Duration) (int, time.Duration) {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return capacity, interval
}

// setLimits changes capacity and refill rate in place. Tokens earned under the
// old rate are kept, up to the new capacity.
func (b *tokenBucket) setLimits(capacity int, interval time.Duration) {
	capacity, interval = sanitizeBucket(capacity, interval)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	b.capacity = float64(capacity)
	b.perSec = float64(capacity) / interval.Seconds()
	b.interval = interval
	b.tokens = min(b.tokens, b.capacity)
}

func (b *tokenBucket) limits() (int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.capacity), b.interval
}

// refill must be called with mu held.
func (b *tokenBucket) refill() {
	now := b.now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.perSec)
	}
	b.last = now
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
