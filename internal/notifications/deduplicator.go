package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "model-router:alert:"

// AlertDeduplicator claims an alert key for a window. Only the first claim
// within the window sends.
type AlertDeduplicator interface {
	ShouldAlert(ctx context.Context, key string) bool
}

// InMemoryDeduplicator serves a single router instance.
type InMemoryDeduplicator struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewInMemoryDeduplicator(window time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		window: window,
		now:    time.Now,
		sent:   make(map[string]time.Time),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.sent[key]; ok && now.Sub(last) < d.window {
		return false
	}

	// Drop expired claims.
	for k, last := range d.sent {
		if now.Sub(last) >= d.window {
			delete(d.sent, k)
		}
	}
	d.sent[key] = now
	return true
}

// RedisDeduplicator shares claims across router instances with SET NX.
type RedisDeduplicator struct {
	client redis.UniversalClient
	window time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, window time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, window: window}
}

// ShouldAlert lets the alert through when Redis is unreachable.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, key string) bool {
	claimed, err := d.client.SetNX(ctx, dedupKeyPrefix+key, time.Now().Unix(), d.window).Result()
	if err != nil {
		slog.Warn("alert dedup unavailable", "key", key, "error", err)
		return true
	}
	return claimed
}
