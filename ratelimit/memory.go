package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count int64
	start time.Time
}

// MemoryLimiter is the in-process fallback when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]bucket
	lastGC  time.Time
	limit   int64
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		buckets: map[string]bucket{},
		lastGC:  time.Now().UTC(),
		limit:   int64(limit),
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.start) > 3*l.window {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		b = bucket{start: now}
	}
	b.count++
	l.buckets[key] = b

	if b.count > l.limit {
		return Decision{Allowed: false, Count: b.count, RetryAfter: b.start.Add(l.window).Sub(now)}, nil
	}
	return Decision{Allowed: true, Count: b.count}, nil
}
