// Package ratelimit bounds inbound generation requests per caller.
// Callers are identified by user ID when the request carries one and by
// client address otherwise. Supports in-memory (single instance) and Redis
// (shared across replicas) backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const Window = time.Minute

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, caller string, limit int) (Decision, error)
}

// InMemoryLimiter uses a fixed window per caller.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, caller string, limit int) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[caller]
	if !ok || !now.Before(w.resetAt) {
		l.sweep(now)
		w = &window{resetAt: now.Add(Window)}
		l.windows[caller] = w
	}

	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt}, nil
}

// sweep drops expired windows so idle callers do not accumulate.
func (l *InMemoryLimiter) sweep(now time.Time) {
	for caller, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, caller)
		}
	}
}
