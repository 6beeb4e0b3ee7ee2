package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the fetch-check-decrement-persist sequence server-side so
// concurrent checks against one bucket cannot over-admit.
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))

if tokens == nil or reset == nil or now >= reset then
    tokens = limit
    reset = now + window
end

if tokens <= 0 then
    return {0, reset, 0}
end

tokens = tokens - 1
redis.call('HSET', KEYS[1], 'tokens', tokens, 'reset', reset)
redis.call('EXPIRE', KEYS[1], window * 2)
return {tokens, reset, 1}
`)

// RedisStore keeps buckets in Redis so quota is shared across instances.
// Buckets expire via TTL and are never explicitly deleted.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (int, time.Time, bool, error) {
	windowSecs := int(window.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}

	raw, err := takeScript.Run(ctx, s.client, []string{"ratelimit:" + key},
		limit, windowSecs, time.Now().Unix()).Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return 0, time.Time{}, false, fmt.Errorf("unexpected script reply: %v", raw)
	}

	remaining := int(vals[0].(int64))
	resetAt := time.Unix(vals[1].(int64), 0)
	allowed := vals[2].(int64) == 1

	return remaining, resetAt, allowed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
