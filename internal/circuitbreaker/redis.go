package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic circuit breaker operations. Times are milliseconds
// taken from the Redis server clock so every instance agrees on openUntil.

// allowScript decides whether a request may pass and claims the half-open
// probe slot when the open period has elapsed.
// Keys: [state_key, open_until_key, probe_key]
// Args: [probe_ttl_ms]
// Returns: 'closed', 'half-open' (caller holds the probe) or 'open' (skip)
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
if state == 'closed' then
    return 'closed'
end

if state == 'open' then
    local t = redis.call('TIME')
    local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
    local openUntil = tonumber(redis.call('GET', KEYS[2]) or '0')
    if now < openUntil then
        return 'open'
    end
    redis.call('SET', KEYS[1], 'half-open')
    redis.call('SET', KEYS[3], '1', 'PX', ARGV[1])
    return 'half-open'
end

if redis.call('SET', KEYS[3], '1', 'NX', 'PX', ARGV[1]) then
    return 'half-open'
end
return 'open'
`)

// recordSuccessScript closes the circuit.
// Keys: [state_key, failures_key, open_until_key, probe_key]
var recordSuccessScript = redis.NewScript(`
redis.call('SET', KEYS[1], 'closed')
redis.call('SET', KEYS[2], '0')
redis.call('DEL', KEYS[3], KEYS[4])
return 'closed'
`)

// recordFailureScript counts a failure and opens the circuit when the
// threshold is reached or the half-open probe failed.
// Keys: [state_key, failures_key, open_until_key, probe_key]
// Args: [failure_threshold, timeout_ms]
// Returns: new state as string
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local failures = redis.call('INCR', KEYS[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

if state == 'half-open' or (state == 'closed' and failures >= tonumber(ARGV[1])) then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[3], tostring(now + tonumber(ARGV[2])))
    redis.call('DEL', KEYS[4])
    return 'open'
end

return state
`)

// RedisCircuitBreaker shares breaker state between router instances.
type RedisCircuitBreaker struct {
	client    *redis.Client
	modelID   string
	config    Config
	keyPrefix string
}

// NewRedis creates a Redis-backed circuit breaker with its own connection.
func NewRedis(redisURL string, modelID string, cfg Config) (*RedisCircuitBreaker, error) {
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

	return NewRedisWithClient(client, modelID, cfg), nil
}

// NewRedisWithClient creates a Redis-backed circuit breaker on a shared client.
func NewRedisWithClient(client *redis.Client, modelID string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client:    client,
		modelID:   modelID,
		config:    cfg,
		keyPrefix: fmt.Sprintf("cb:%s:", modelID),
	}
}

// WithRedisClient makes the manager create Redis-backed breakers sharing client.
func WithRedisClient(client *redis.Client) ManagerOption {
	return func(m *Manager) {
		m.factory = func(modelID string) CircuitBreaker {
			return NewRedisWithClient(client, modelID, m.config)
		}
	}
}

func (cb *RedisCircuitBreaker) stateKey() string {
	return cb.keyPrefix + "state"
}

func (cb *RedisCircuitBreaker) failuresKey() string {
	return cb.keyPrefix + "failures"
}

func (cb *RedisCircuitBreaker) openUntilKey() string {
	return cb.keyPrefix + "open_until"
}

func (cb *RedisCircuitBreaker) probeKey() string {
	return cb.keyPrefix + "probe"
}

// Allow runs the allow script. A Redis error lets the request through so a
// cache outage never blocks routing.
func (cb *RedisCircuitBreaker) Allow(ctx context.Context) (State, error) {
	keys := []string{cb.stateKey(), cb.openUntilKey(), cb.probeKey()}
	probeTTL := cb.config.Timeout.Milliseconds()
	if probeTTL <= 0 {
		probeTTL = 1000
	}

	result, err := allowScript.Run(ctx, cb.client, keys, probeTTL).Text()
	if err != nil {
		return StateClosed, nil
	}

	switch result {
	case "open":
		return StateOpen, domain.ErrCircuitBreakerOpen
	case "half-open":
		return StateHalfOpen, nil
	}
	return StateClosed, nil
}

func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	keys := []string{cb.stateKey(), cb.failuresKey(), cb.openUntilKey(), cb.probeKey()}
	recordSuccessScript.Run(ctx, cb.client, keys)
}

func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	keys := []string{cb.stateKey(), cb.failuresKey(), cb.openUntilKey(), cb.probeKey()}
	args := []interface{}{
		cb.config.FailureThreshold,
		cb.config.Timeout.Milliseconds(),
	}
	recordFailureScript.Run(ctx, cb.client, keys, args...)
}

// State returns the stored state, defaulting to closed on error.
func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	result, err := cb.client.Get(ctx, cb.stateKey()).Result()
	if err != nil {
		return StateClosed
	}

	return parseState(result)
}

func (cb *RedisCircuitBreaker) Snapshot(ctx context.Context) Snapshot {
	values, err := cb.client.MGet(ctx, cb.stateKey(), cb.failuresKey(), cb.openUntilKey()).Result()
	if err != nil {
		return Snapshot{State: StateClosed}
	}

	snap := Snapshot{State: StateClosed}
	if s, ok := values[0].(string); ok {
		snap.State = parseState(s)
	}
	if s, ok := values[1].(string); ok {
		snap.ConsecutiveFailures, _ = strconv.Atoi(s)
	}
	if s, ok := values[2].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			snap.OpenUntil = time.UnixMilli(ms)
		}
	}
	return snap
}

// Reset puts the breaker back to closed. Used by tests and manual recovery.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	pipe := cb.client.Pipeline()
	pipe.Set(ctx, cb.stateKey(), "closed", 0)
	pipe.Set(ctx, cb.failuresKey(), "0", 0)
	pipe.Del(ctx, cb.openUntilKey(), cb.probeKey())
	_, err := pipe.Exec(ctx)
	return err
}

func (cb *RedisCircuitBreaker) Close() error {
	return cb.client.Close()
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
