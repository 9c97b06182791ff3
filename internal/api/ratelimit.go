package api

import (
	"net/http"
	"sync"
	"time"
)

// DeleteRateLimiter is a token bucket guarding destructive endpoints.
// The bucket starts full at capacity and regains one token per
// refillEvery, allowing an initial burst followed by a sustained rate.
type DeleteRateLimiter struct {
	mu          sync.Mutex
	tokens      int
	capacity    int
	refillEvery time.Duration
	lastRefill  time.Time
}

// NewDeleteRateLimiter creates a limiter with the given burst capacity
// and refill interval.
func NewDeleteRateLimiter(capacity int, refillEvery time.Duration) *DeleteRateLimiter {
	return &DeleteRateLimiter{
		tokens:      capacity,
		capacity:    capacity,
		refillEvery: refillEvery,
		lastRefill:  time.Now(),
	}
}

// allow takes one token, refilling first based on elapsed time.
func (l *DeleteRateLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.refillEvery > 0 {
		refill := int(now.Sub(l.lastRefill) / l.refillEvery)
		if refill > 0 {
			l.tokens = min(l.tokens+refill, l.capacity)
			l.lastRefill = l.lastRefill.Add(time.Duration(refill) * l.refillEvery)
		}
	}

	if l.tokens <= 0 {
		return false
	}
	l.tokens--
	return true
}

// Middleware rejects requests with 429 once the bucket is empty.
func (l *DeleteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow() {
			WriteProblem(w, r, http.StatusTooManyRequests, "Rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
