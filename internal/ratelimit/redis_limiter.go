package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript 原子滑动窗口判定
//
// 剔除过期成员、计数、条件写入与续期在同一脚本内完成，
// 并发请求不会互相覆盖计数。返回 {allowed, count, oldest_score}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local score = now
	if oldest[2] then
		score = tonumber(oldest[2])
	end
	return {0, count, score}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

// RedisLimiter 基于 Redis 有序集合的分布式滑动窗口限流器
//
// 多实例共享同一配额，加权脚本保证判定原子性
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter 创建分布式限流器
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Check 执行滑动窗口判定
func (l *RedisLimiter) Check(ctx context.Context, principal string, limit int, window time.Duration) (*Result, error) {
	key := fmt.Sprintf("ratelimit:%s", principal)
	now := time.Now()

	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.New().String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("sliding window script failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) < 3 {
		return nil, fmt.Errorf("unexpected script result: %v", raw)
	}

	allowed := values[0].(int64) == 1
	count := int(values[1].(int64))
	oldestMillis := values[2].(int64)

	result := &Result{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: time.UnixMilli(oldestMillis).Add(window),
	}
	if allowed {
		result.Remaining = limit - count
	}
	return result, nil
}
