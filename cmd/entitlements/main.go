package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/audit"
	"github.com/smallbiznis/entitlements/internal/authorization"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	"github.com/smallbiznis/entitlements/internal/feature"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/migration"
	"github.com/smallbiznis/entitlements/internal/observability"
	"github.com/smallbiznis/entitlements/internal/plan"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	"github.com/smallbiznis/entitlements/internal/redisclient"
	"github.com/smallbiznis/entitlements/internal/scheduler"
	"github.com/smallbiznis/entitlements/internal/seed"
	"github.com/smallbiznis/entitlements/internal/server"
	"github.com/smallbiznis/entitlements/internal/subscription"
	"github.com/smallbiznis/entitlements/internal/usage"
	"github.com/smallbiznis/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redisclient.Module,
		clock.Module,
		keylock.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		feature.Module,
		plan.Module,
		subscription.Module,
		entitlement.Module,
		usage.Module,
		entitlementsvc.Module,
		fx.Invoke(ensureCatalog),

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func ensureCatalog(lc fx.Lifecycle, features featuredomain.Service, plans plandomain.Service, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seed.EnsureCatalog(ctx, features, plans, log)
		},
	})
}
