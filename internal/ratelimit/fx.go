package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideConsumeLimiter),
)

type params struct {
	fx.In

	Cfg    config.Config
	Client *redis.Client `optional:"true"`
}

func provideConsumeLimiter(p params) (*ConsumeLimiter, error) {
	return NewConsumeLimiter(p.Cfg, p.Client)
}
