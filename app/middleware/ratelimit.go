package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

// RateLimiter implements a sliding-window limiter on redis sorted sets. Each
// request lands in a per-key ZSET scored by its timestamp; the window slides
// by trimming members older than one minute before counting.
type RateLimiter struct {
	client redis.UniversalClient
	window time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{
		client: client,
		window: rateLimitWindow,
	}
}

// Allow records the request and reports whether the caller stays within
// limitPerWindow. A non-positive limit disables the check for that key.
func (l *RateLimiter) Allow(ctx context.Context, key string, limitPerWindow int) (bool, error) {
	if limitPerWindow <= 0 {
		return true, nil
	}

	now := time.Now().UTC()
	windowStart := now.Add(-l.window)
	redisKey := "ratelimit:" + key

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	count := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score: float64(now.UnixNano()),
		// UnixNano alone collides when two requests land in the same tick
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	})
	pipe.Expire(ctx, redisKey, l.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	return count.Val() < int64(limitPerWindow), nil
}
