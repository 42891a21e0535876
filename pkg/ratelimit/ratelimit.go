package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces limiter keys so they never collide with cache entries
// sharing the same Redis instance.
const keyPrefix = "payment:rl:"

// Limiter 定义限流器接口, Allow 检查给定 key 在指定速率下是否放行。
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则。
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 构造每秒 qps 次、突发 burst 次的限流规则。
func PerSecond(qps, burst int) Limit {
	return Limit{Rate: qps, Period: time.Second, Burst: burst}
}

// Result 单次限流判定的结果。
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisLimiter 基于 redis_rate (GCRA) 的分布式限流器。
type RedisLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisLimiter 创建 Redis 限流器。
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 检查 key 是否放行。
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, keyPrefix+key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}
