package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket bounds outbound calls to a fixed number of grants per rolling
// window. It is constructed once at startup and shared by every request, so
// all accounting happens under the mutex. State is in-memory only; a restart
// resets the budget, which is fine because the bucket bounds call rate, not
// correctness.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	used     int
	windowAt time.Time
	now      func() time.Time
}

func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Consume grants a token immediately when the current window has budget
// left. Otherwise it returns ok=false and the minimum duration the caller
// must wait before trying again. Callers must not proceed without a grant.
func (b *TokenBucket) Consume() (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.windowAt.IsZero() || now.Sub(b.windowAt) >= b.window {
		b.windowAt = now
		b.used = 0
	}

	if b.used < b.capacity {
		b.used++
		return true, 0
	}

	return false, b.windowAt.Add(b.window).Sub(now)
}
