package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	"github.com/smallbiznis/entitlements/internal/observability"
	obsmiddleware "github.com/smallbiznis/entitlements/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entitlements/internal/observability/tracing"
	"github.com/smallbiznis/entitlements/internal/ratelimit"
	"github.com/smallbiznis/entitlements/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	svc          *entitlementsvc.Service
	liveEvents   *liveevents.Hub
	obsMetrics   *obsmetrics.Metrics
	usageLimiter *ratelimit.ConsumeLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Service      *entitlementsvc.Service
	LiveEvents   *liveevents.Hub           `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
	UsageLimiter *ratelimit.ConsumeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		svc:          p.Service,
		liveEvents:   p.LiveEvents,
		obsMetrics:   p.ObsMetrics,
		usageLimiter: p.UsageLimiter,
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerAPIRoutes serves the products that meter actions on behalf of a tenant.
func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorContext())

	tenant := api.Group("/tenants/:tenantId", TenantContext())
	{
		tenant.GET("/entitlements", s.ResolveEntitlements)
		tenant.GET("/usage", s.GetUsageReport)
		tenant.POST("/usage/:dimension/consume", s.CheckAndConsume)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", ActorContext())

	// -------- Features --------
	admin.GET("/features", s.ListFeatures)
	admin.POST("/features", s.CreateFeature)
	admin.GET("/features/:code", s.GetFeature)
	admin.PATCH("/features/:code", s.UpdateFeature)
	admin.POST("/features/:code/deactivate", s.DeactivateFeature)

	// -------- Plans --------
	admin.GET("/plans", s.ListPlans)
	admin.POST("/plans", s.CreatePlan)
	admin.GET("/plans/:code", s.GetPlan)
	admin.PATCH("/plans/:code", s.UpdatePlan)

	// -------- Tenants --------
	admin.GET("/tenants", s.ListTenants)
	admin.POST("/tenants", s.ProvisionTenant)

	tenant := admin.Group("/tenants/:tenantId", TenantContext())
	{
		tenant.GET("", s.GetTenant)
		tenant.PATCH("/status", s.UpdateTenantStatus)
		tenant.POST("/cancel", s.CancelTenant)
		tenant.PUT("/plan", s.ApplyPlan)
		tenant.GET("/entitlements", s.ResolveEntitlements)
		tenant.PUT("/overrides/:featureCode", s.SetCustomFeature)
		tenant.DELETE("/overrides/:featureCode", s.ClearCustomFeature)
		tenant.GET("/usage", s.GetUsageReport)
		tenant.POST("/usage/reset", s.ResetPeriod)
		tenant.GET("/usage/live-events", s.StreamUsageLiveEvents)
	}

	// -------- Maintenance --------
	admin.POST("/usage/reset-due", s.ResetAllDuePeriods)
	admin.POST("/overrides/sweep", s.SweepExpiredOverrides)

	admin.GET("/audit-logs", s.ListAuditLogs)
}
