package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a rate limit check. Remaining is -1 when
// the key is unlimited.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter answers whether a caller may make another request right now.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// RateLimiter implements a sliding window over a Redis sorted set. Each
// request is a member scored by its arrival time; counting the members
// newer than the window start gives the current rate.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter creates a limiter backed by the given Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func limiterKey(key string) string {
	return "ratelimit:" + key
}

// Allow records the request and reports whether it fits the limit. A
// limit of zero or below means unlimited.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := time.Now()
	windowStart := now.Add(-window)
	redisKey := limiterKey(key)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: count window: %w", err)
	}

	count := int(countCmd.Val())
	resetAt := now.Add(window)
	if count >= limit {
		// Oldest surviving entry decides when a slot frees up.
		oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			resetAt = time.Unix(0, int64(oldest[0].Score)).Add(window)
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: record request: %w", err)
	}

	return Decision{Allowed: true, Remaining: limit - count - 1, ResetAt: resetAt}, nil
}

// Reset clears the window for a key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, limiterKey(key)).Err()
}

// CurrentUsage returns how many requests the key has in flight within
// its recorded window. Purely informational.
func (r *RateLimiter) CurrentUsage(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, limiterKey(key)).Result()
}

// NoopLimiter allows everything. Used when Redis is not configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}
