package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/redis/go-redis/v9"
)

const orderKey = "cache:order"

// setScript stores an entry and keeps the insertion list bounded.
// Entries whose key already expired are dropped from the head first.
// Keys: [entry_key, order_key]
// Args: [payload, ttl_ms, capacity]
// Returns: number of evicted entries
var setScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('LREM', KEYS[2], 0, KEYS[1])
redis.call('RPUSH', KEYS[2], KEYS[1])

local capacity = tonumber(ARGV[3])
local evicted = 0
while true do
    local head = redis.call('LINDEX', KEYS[2], 0)
    if not head or head == KEYS[1] or redis.call('EXISTS', head) == 1 then
        break
    end
    redis.call('LPOP', KEYS[2])
end
while redis.call('LLEN', KEYS[2]) > capacity do
    local oldest = redis.call('LPOP', KEYS[2])
    redis.call('DEL', oldest)
    evicted = evicted + 1
end
return evicted
`)

type RedisCache struct {
	client   *redis.Client
	capacity int
}

func NewRedisCache(redisURL string, capacity int) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisCacheWithClient(client, capacity), nil
}

func NewRedisCacheWithClient(client *redis.Client, capacity int) *RedisCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisCache{client: client, capacity: capacity}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.GenerationResult, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result domain.GenerationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}

	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result *domain.GenerationResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return setScript.Run(ctx, c.client, []string{key, orderKey}, data, ttl.Milliseconds(), c.capacity).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
