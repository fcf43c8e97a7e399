package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/audit"
	"github.com/smallbiznis/entitlements/internal/authorization"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	"github.com/smallbiznis/entitlements/internal/feature"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/observability"
	"github.com/smallbiznis/entitlements/internal/plan"
	"github.com/smallbiznis/entitlements/internal/redisclient"
	"github.com/smallbiznis/entitlements/internal/scheduler"
	"github.com/smallbiznis/entitlements/internal/subscription"
	"github.com/smallbiznis/entitlements/internal/usage"
	"github.com/smallbiznis/entitlements/pkg/db"
	"go.uber.org/fx"
)

// The scheduler binary runs the period reset and override sweep jobs without
// the HTTP server. Run it when the API is scaled out and SCHEDULER_ENABLED is
// false there.
func main() {
	app := fx.New(
		fx.Provide(loadConfig),
		fx.Provide(config.NewEntitlementsConfigHolder),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redisclient.Module,
		clock.Module,
		keylock.Module,

		// Domain services required by scheduler
		audit.Module,
		authorization.Module,
		feature.Module,
		plan.Module,
		subscription.Module,
		entitlement.Module,
		usage.Module,
		entitlementsvc.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func loadConfig() config.Config {
	cfg := config.Load()
	cfg.Scheduler.Enabled = true
	return cfg
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
