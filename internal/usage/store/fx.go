package store

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg    config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Client *redis.Client `optional:"true"`
}

func Provide(p Params) domain.CounterStore {
	log := p.Log.Named("usage.store")
	switch p.Cfg.UsageStore {
	case config.UsageStoreRedis:
		if p.Client != nil {
			log.Info("usage counters stored in redis")
			return NewRedisStore(p.Client)
		}
		log.Warn("redis usage store requested without REDIS_ADDR; using sql store")
	case config.UsageStoreMemory:
		log.Warn("usage counters kept in memory; values are lost on restart")
		return NewMemoryStore()
	}
	return NewSQLStore(p.DB, p.Clock)
}
