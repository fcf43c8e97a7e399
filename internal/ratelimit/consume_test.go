package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeLimiterDisabled(t *testing.T) {
	limiter, err := NewConsumeLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestConsumeLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ConsumeRate: 1, ConsumeBurst: 1}}
	_, err := NewConsumeLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestConsumeLimiterCostIsClamped(t *testing.T) {
	limiter := &ConsumeLimiter{rate: 10, burst: 20}
	assert.Equal(t, 1, limiter.cost(0))
	assert.Equal(t, 7, limiter.cost(7))
	assert.Equal(t, 20, limiter.cost(500))
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 3, 1))
	assert.Equal(t, 2*time.Second, retryAfter(false, 2, 1))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 1, 2))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, defaultBucketTTL(10, 20))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}
