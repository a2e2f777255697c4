package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces the same per-key budget as Store but shares state
// across replicas through Redis. Transport errors are returned to the
// caller, which treats them as a denial.
type RedisLimiter struct {
	rdb     *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	cfg     Config
	now     func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter wraps an existing Redis client. The client's lifecycle
// stays with the caller.
func NewRedisLimiter(rdb *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		rdb:     rdb,
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   cfg.Limit,
			Burst:  cfg.Limit,
			Period: cfg.Window,
		},
		cfg: cfg,
		now: time.Now,
	}
}

func (l *RedisLimiter) result(res *redis_rate.Result, limited bool) Info {
	return Info{
		Limit:     l.cfg.Limit,
		Remaining: res.Remaining,
		ResetAt:   l.now().Add(res.ResetAfter),
		Limited:   limited,
	}
}

// Check peeks at the key's budget without consuming allowance.
func (l *RedisLimiter) Check(ctx context.Context, key string) (Info, error) {
	res, err := l.limiter.AllowN(ctx, key, l.limit, 0)
	if err != nil {
		return Info{}, fmt.Errorf("rate limit check for %q: %w", key, err)
	}
	return l.result(res, res.Remaining <= 0), nil
}

// Hit consumes one slot. Atomicity is provided by the server-side script
// redis_rate executes, so concurrent replicas cannot both take the last slot.
func (l *RedisLimiter) Hit(ctx context.Context, key string) (Info, error) {
	res, err := l.limiter.Allow(ctx, key, l.limit)
	if err != nil {
		return Info{}, fmt.Errorf("rate limit hit for %q: %w", key, err)
	}
	return l.result(res, res.Allowed == 0), nil
}

// Reset drops one key back to full allowance.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.limiter.Reset(ctx, key); err != nil {
		return fmt.Errorf("rate limit reset for %q: %w", key, err)
	}
	return nil
}

// ResetAll drops every tracked key. redis_rate stores its state under the
// rate: prefix, so a scoped scan is enough; nothing else in the database is
// touched.
func (l *RedisLimiter) ResetAll(ctx context.Context) error {
	iter := l.rdb.Scan(ctx, 0, "rate:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := l.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("rate limit reset all: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("rate limit reset all: %w", err)
	}
	return nil
}
