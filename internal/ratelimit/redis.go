package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "model-router:ratelimit:"

// RedisLimiter keeps a sliding one-minute log per caller in a sorted set.
// Replicas sharing the client see one combined budget per caller.
type RedisLimiter struct {
	client redis.UniversalClient
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, caller string, limit int) (Decision, error) {
	key := keyPrefix + caller
	now := time.Now()
	windowStart := now.Add(-Window)

	pipe := l.client.Pipeline()

	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))

	// Members must be unique across replicas sharing the key.
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString(),
	})

	countCmd := pipe.ZCard(ctx, key)

	pipe.Expire(ctx, key, Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(countCmd.Val())
	remaining := max(limit-count, 0)

	return Decision{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   now.Add(Window),
	}, nil
}
