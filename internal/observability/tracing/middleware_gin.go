package tracing

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Gin context keys read after the handler ran. They mirror the keys the
// request logger uses so a single c.Set feeds both.
const (
	ginKeyTenantID       = "tenant_id"
	ginKeyDimension      = "dimension"
	ginKeyConsumeAllowed = "consume_allowed"
)

// GinMiddleware instruments inbound HTTP requests. Consume calls carry the
// tenant, the dimension and the decision as span attributes.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("entitlements/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		requestID := actorcontext.RequestIDFromContext(ctx)
		if requestID != "" {
			member, err := baggage.NewMember("request_id", requestID)
			if err == nil {
				bag, bagErr := baggage.New(member)
				if bagErr == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		span.SetAttributes(entitlementAttributes(c)...)

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

func entitlementAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if v, ok := c.Get(ginKeyTenantID); ok {
		if s, ok := v.(fmt.Stringer); ok {
			attrs = append(attrs, attribute.String("entitlements.tenant_id", s.String()))
		}
	}
	if dimension := c.GetString(ginKeyDimension); dimension != "" {
		attrs = append(attrs, attribute.String("entitlements.dimension", dimension))
	}
	if v, ok := c.Get(ginKeyConsumeAllowed); ok {
		if allowed, ok := v.(bool); ok {
			attrs = append(attrs, attribute.Bool("entitlements.allowed", allowed))
		}
	}
	return attrs
}
