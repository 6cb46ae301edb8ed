package serve

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-client request budget with lazily refilled
// token buckets, one bucket per client key.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	fillRate float64 // tokens per second
}

type bucket struct {
	available  float64
	lastRefill time.Time
}

// NewRateLimiter allows limit requests per window per client key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(limit),
		fillRate: float64(limit) / window.Seconds(),
	}
}

// Allow consumes one token for key.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		// Bound the map so hostile clients cannot grow it without limit.
		if len(r.buckets) >= 10000 {
			r.evictStale(now)
		}
		b = &bucket{available: r.capacity, lastRefill: now}
		r.buckets[key] = b
	}

	refill := now.Sub(b.lastRefill).Seconds() * r.fillRate
	if refill > 0 {
		b.available += refill
		if b.available > r.capacity {
			b.available = r.capacity
		}
		b.lastRefill = now
	}

	if b.available >= 1 {
		b.available--
		return true
	}
	return false
}

// evictStale drops buckets that refilled to capacity, i.e. clients idle
// for at least a full window. Called with the lock held.
func (r *RateLimiter) evictStale(now time.Time) {
	for key, b := range r.buckets {
		idle := now.Sub(b.lastRefill).Seconds() * r.fillRate
		if b.available+idle >= r.capacity {
			delete(r.buckets, key)
		}
	}
}
