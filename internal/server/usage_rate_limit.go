package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/observability/logger"
	"go.uber.org/zap"
)

// allowConsumeRate throttles consumption per tenant before it reaches the
// ledger. Limiter failures fail open; the ledger still enforces limits.
func (s *Server) allowConsumeRate(c *gin.Context, dimension string, amount int64) bool {
	if !s.usageLimiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	result, err := s.usageLimiter.Allow(ctx, tenantIDFromContext(c), amount)
	if err != nil {
		logger.FromContext(ctx).Warn("consume rate limit check failed", zap.Error(err))
		return true
	}
	if !result.Allowed {
		logger.FromContext(ctx).Debug("consume rate limit exceeded",
			zap.String("dimension", dimension),
			zap.Int64("amount", amount),
			zap.Int("limit", result.Limit),
		)
		s.obsMetrics.RecordConsumeRateLimited(ctx, dimension)

		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortWithError(c, ErrRateLimited)
		return false
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	return true
}
