package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var seen string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		seen = actorcontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if seen == "" {
		t.Fatalf("expected request id in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("expected response header %q, got %q", seen, got)
	}
	if logs.FilterMessage("http_request").Len() != 1 {
		t.Fatalf("expected one http_request log entry, got %d", logs.Len())
	}
}

func TestRequestLevel(t *testing.T) {
	allowed, denied := true, false
	consume := "/api/tenants/:tenantId/usage/:dimension/consume"

	cases := []struct {
		name    string
		summary requestSummary
		want    zapcore.Level
	}{
		{"consume allowed", requestSummary{route: consume, status: 200, consume: true, allowed: &allowed}, zap.DebugLevel},
		{"consume denied", requestSummary{route: consume, status: 200, consume: true, allowed: &denied}, zap.InfoLevel},
		{"consume validation", requestSummary{route: consume, status: 400, consume: true, errorType: "validation_error"}, zap.DebugLevel},
		{"consume busy", requestSummary{route: consume, status: 503, consume: true}, zap.ErrorLevel},
		{"admin forbidden", requestSummary{route: "/admin/features", status: 403, errorType: "forbidden"}, zap.InfoLevel},
		{"health", requestSummary{route: "/health", status: 200}, zap.DebugLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := requestLevel(tc.summary); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestGinMiddlewareLogsConsumeOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/api/tenants/:tenantId/usage/:dimension/consume", func(c *gin.Context) {
		c.Set(KeyDimension, c.Param("dimension"))
		c.Set(KeyConsumeAmount, int64(2))
		c.Set(KeyConsumeAllowed, c.Param("dimension") == "responses")
		c.Status(http.StatusOK)
	})

	for _, dimension := range []string{"responses", "active_surveys"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tenants/1/usage/"+dimension+"/consume", nil))
	}

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected only the denied consume at info, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["dimension"] != "active_surveys" || ctx["allowed"] != false || ctx["amount"] != int64(2) {
		t.Fatalf("unexpected fields %+v", ctx)
	}
}
