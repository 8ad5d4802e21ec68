// Package ratelimit implements a per-client token bucket on top of
// golang.org/x/time/rate. Anonymous clients (no auth identity attached to
// the connection) share a single bucket keyed by anonymousKey.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sutragraph/internal/metrics"
)

// anonymousKey is the bucket key shared by every client the auth layer
// could not identify.
const anonymousKey = "__anonymous__"

// Limiter holds one rate.Limiter per client identity, guarded by a single
// mutex rather than sharded or lock-free — client counts are small enough
// that a single mutex never becomes the bottleneck.
type Limiter struct {
	mu              sync.Mutex
	buckets         map[string]*rate.Limiter
	capacity        float64
	refillPerSecond float64
}

// NewLimiter creates a Limiter where each bucket holds up to capacity
// tokens and refills at refillPerSecond tokens/sec.
func NewLimiter(capacity float64, refillPerSecond float64) *Limiter {
	if capacity <= 0 {
		capacity = 100
	}
	if refillPerSecond <= 0 {
		refillPerSecond = 50
	}
	return &Limiter{
		buckets:         make(map[string]*rate.Limiter),
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
	}
}

func (l *Limiter) bucketFor(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, exists := l.buckets[clientID]
	if !exists {
		b = rate.NewLimiter(rate.Limit(l.refillPerSecond), int(l.capacity))
		l.buckets[clientID] = b
	}
	return b
}

// Allow consumes one token for clientID (or the shared anonymous bucket if
// clientID is empty). It reports whether the request may proceed and, when
// not, how long the caller should wait before retrying.
func (l *Limiter) Allow(clientID string) (ok bool, retryAfter time.Duration) {
	if clientID == "" {
		clientID = anonymousKey
	}

	b := l.bucketFor(clientID)

	reservation := b.Reserve()
	if !reservation.OK() {
		metrics.RateLimiterRejected.WithLabelValues(clientID).Inc()
		return false, 0
	}

	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		metrics.RateLimiterRejected.WithLabelValues(clientID).Inc()
		return false, delay
	}
	return true, 0
}

// Reset removes clientID's bucket, restoring it to full capacity on next use.
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, clientID)
}
