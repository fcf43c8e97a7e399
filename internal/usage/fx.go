package usage

import (
	"github.com/smallbiznis/entitlements/internal/usage/liveevents"
	"github.com/smallbiznis/entitlements/internal/usage/service"
	"github.com/smallbiznis/entitlements/internal/usage/store"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(store.Provide),
	fx.Provide(liveevents.NewHub),
	fx.Provide(service.New),
)
