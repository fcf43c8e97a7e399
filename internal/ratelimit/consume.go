package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/config"
)

const keyConsumeTenant = "entitlements:consume:tenant:%s"

// ConsumeLimiter throttles consumption calls per tenant, weighted by the
// requested amount. A nil limiter allows everything.
type ConsumeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewConsumeLimiter(cfg config.Config, client *redis.Client) (*ConsumeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.ConsumeRate <= 0 || limitCfg.ConsumeBurst <= 0 {
		return nil, ErrInvalidBucket
	}
	return &ConsumeLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.ConsumeRate,
		burst:  limitCfg.ConsumeBurst,
	}, nil
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow charges amount units against the tenant's bucket. Amounts above the
// burst are charged as a full bucket so large batches are throttled rather
// than rejected outright.
func (l *ConsumeLimiter) Allow(ctx context.Context, tenantID snowflake.ID, amount int64) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyConsumeTenant, tenantID.String()), l.rate, l.burst, l.cost(amount))
}

func (l *ConsumeLimiter) cost(amount int64) int {
	switch {
	case amount < 1:
		return 1
	case amount > int64(l.burst):
		return l.burst
	default:
		return int(amount)
	}
}
