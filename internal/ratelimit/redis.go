package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript opens or advances one window atomically.
// KEYS[1] holds the reset time (unix ms), KEYS[2] the counter.
// ARGV[1] is now (unix ms), ARGV[2] the window length in ms, ARGV[3] the
// reset time a new window would get.
// Returns {resetAt, count}.
const fixedWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local reset_key = KEYS[1]
local count_key = KEYS[2]

local reset_at = redis.call('GET', reset_key)
if not reset_at or now >= tonumber(reset_at) then
    local next_reset = ARGV[3]
    redis.call('SET', reset_key, next_reset, 'PX', window)
    redis.call('SET', count_key, 1, 'PX', window)
    return {next_reset, 1}
end

local count = redis.call('INCR', count_key)
if redis.call('PTTL', count_key) < 0 then
    redis.call('PEXPIRE', count_key, window)
end
return {reset_at, count}
`

// RedisStore shares windows across gateway replicas. Keys expire with their
// window, so no sweep is needed.
type RedisStore struct {
	client redis.Scripter
	script *redis.Script
	prefix string
}

// NewRedisStore creates a store using client. prefix namespaces every key.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "supportgate:rl"
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		prefix: prefix,
	}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return 0, time.Time{}, fmt.Errorf("invalid window %s", window)
	}

	// The hash tag keeps both keys on one cluster slot.
	base := fmt.Sprintf("%s:{%s}", s.prefix, key)
	keys := []string{base + ":reset", base + ":count"}

	val, err := s.script.Run(ctx, s.client, keys, now.UnixMilli(), windowMs, now.UnixMilli()+windowMs).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	results, ok := val.([]interface{})
	if !ok || len(results) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected result from redis script: %v", val)
	}

	resetMs, err := toInt64(results[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse reset time: %w", err)
	}
	count, err := toInt64(results[1])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse count: %w", err)
	}

	return int(count), time.UnixMilli(resetMs), nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case float64:
		return int64(n), nil
	default:
		return strconv.ParseInt(fmt.Sprintf("%v", v), 10, 64)
	}
}
