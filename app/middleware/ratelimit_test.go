package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client), mr
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(t)

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "acct-1", 5)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
}

func TestRateLimiterBlocksAtLimit(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(t)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "acct-1", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "acct-1", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(t)

	ok, err := limiter.Allow(ctx, "acct-1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "acct-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// a different caller is not affected
	ok, err = limiter.Allow(ctx, "acct-2", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(t)
	limiter.window = 50 * time.Millisecond

	ok, err := limiter.Allow(ctx, "acct-1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "acct-1", 1)
	require.NoError(t, err)
	require.False(t, ok)

	// once the old entry falls out of the window the caller is allowed again
	time.Sleep(60 * time.Millisecond)
	ok, err = limiter.Allow(ctx, "acct-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterNonPositiveLimitDisables(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestRateLimiter(t)

	for i := 0; i < 50; i++ {
		ok, err := limiter.Allow(ctx, "acct-1", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRateLimiterSurfacesRedisFailure(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestRateLimiter(t)
	mr.Close()

	_, err := limiter.Allow(ctx, "acct-1", 5)
	assert.Error(t, err)
}
