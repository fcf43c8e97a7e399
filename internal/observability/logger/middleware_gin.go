package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Gin context keys handlers set so the request log can describe the
// consumption outcome without reparsing the body.
const (
	KeyDimension      = "dimension"
	KeyConsumeAmount  = "consume_amount"
	KeyConsumeAllowed = "consume_allowed"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

type requestSummary struct {
	route     string
	status    int
	errorType string
	consume   bool
	// allowed is nil unless a consume handler reached a decision.
	allowed *bool
}

// GinMiddleware logs each request with correlation identifiers and safe fields.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := c.Request.Context()
		ctx = actorcontext.WithRequestID(ctx, requestID)
		ctx = actorcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = actorcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		summary := requestSummary{route: c.FullPath(), status: c.Writer.Status()}
		if strings.TrimSpace(summary.route) == "" {
			summary.route = "unknown"
		}
		summary.consume = isConsume(summary.route)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", summary.route),
			zap.Int("status", summary.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		fields = append(fields, consumeFields(c, &summary)...)

		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				summary.errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", summary.errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		logRequest(FromContext(c.Request.Context()), summary, fields)
	}
}

func consumeFields(c *gin.Context, summary *requestSummary) []zap.Field {
	var fields []zap.Field
	if dimension := strings.TrimSpace(c.GetString(KeyDimension)); dimension != "" {
		fields = append(fields, zap.String("dimension", dimension))
	}
	if amount, ok := c.Get(KeyConsumeAmount); ok {
		if v, ok := amount.(int64); ok {
			fields = append(fields, zap.Int64("amount", v))
		}
	}
	if allowed, ok := c.Get(KeyConsumeAllowed); ok {
		if v, ok := allowed.(bool); ok {
			summary.allowed = &v
			fields = append(fields, zap.Bool("allowed", v))
		}
	}
	return fields
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

func logRequest(log *zap.Logger, summary requestSummary, fields []zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(requestLevel(summary), "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

// requestLevel keeps the consume hot path quiet: allowed decisions and
// client mistakes log at debug, denials stay visible at info.
func requestLevel(summary requestSummary) zapcore.Level {
	switch {
	case summary.status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case isProbe(summary.route):
		return zap.DebugLevel
	case summary.consume && summary.allowed != nil && *summary.allowed:
		return zap.DebugLevel
	case summary.consume && summary.status >= http.StatusBadRequest && summary.errorType == "validation_error":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

func isProbe(route string) bool {
	route = strings.TrimSpace(route)
	return strings.EqualFold(route, "/metrics") || strings.EqualFold(route, "/health")
}

func isConsume(route string) bool {
	return strings.HasSuffix(strings.TrimSpace(route), "/consume")
}
