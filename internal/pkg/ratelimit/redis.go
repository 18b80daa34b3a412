package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces budgets with a Redis Lua script so the
// check-and-increment is atomic across hosts. A GET → check → INCR
// sequence would race under concurrent workers.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

// Lua script for the atomic multi-window check. All windows are checked
// before any counter moves, so a denial consumes nothing. A limit of 0
// disables that window.
const multiWindowScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local hourKey = KEYS[3]
local n = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local hourLimit = tonumber(ARGV[4])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local hourCurrent = tonumber(redis.call("GET", hourKey) or "0")

if secondLimit > 0 and secCurrent + n > secondLimit then
    return {0, 1}
end
if minuteLimit > 0 and minCurrent + n > minuteLimit then
    return {0, 2}
end
if hourLimit > 0 and hourCurrent + n > hourLimit then
    return {0, 3}
end

if secondLimit > 0 then
    local v = redis.call("INCRBY", secondKey, n)
    if v == n then
        redis.call("EXPIRE", secondKey, 2)
    end
end
if minuteLimit > 0 then
    local v = redis.call("INCRBY", minuteKey, n)
    if v == n then
        redis.call("EXPIRE", minuteKey, 120)
    end
end
if hourLimit > 0 then
    local v = redis.call("INCRBY", hourKey, n)
    if v == n then
        redis.call("EXPIRE", hourKey, 7200)
    end
end

return {1, 0}
`

// NewRedisLimiter creates a limiter with the pre-compiled Lua script.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		script: redis.NewScript(multiWindowScript),
	}
}

// NewRedisLimiterFromURL connects to Redis and verifies the connection.
func NewRedisLimiterFromURL(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLimiter(client), nil
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, key string, lim Limit, n int) (bool, time.Duration, error) {
	if !lim.Enforced() {
		return true, 0, nil
	}

	now := time.Now()
	secondKey := fmt.Sprintf("outreach:budget:%s:sec:%d", key, now.Unix())
	minuteKey := fmt.Sprintf("outreach:budget:%s:min:%d", key, now.Unix()/60)
	hourKey := fmt.Sprintf("outreach:budget:%s:hour:%d", key, now.Unix()/3600)

	result, err := r.script.Run(ctx, r.redis,
		[]string{secondKey, minuteKey, hourKey},
		n,
		lim.PerSecond,
		lim.PerMinute,
		lim.PerHour,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	var wait time.Duration
	switch result[1].(int64) {
	case 1: // second window
		wait = time.Second
	case 2: // minute window
		wait = time.Duration(60-now.Second()) * time.Second
	case 3: // hour window
		wait = time.Duration(60-now.Minute()) * time.Minute
	}
	return false, wait, nil
}
