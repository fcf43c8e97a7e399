package keylock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("keylock",
	fx.Provide(Provide),
)

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

func Provide(p Params) Locker {
	if p.Cfg.LockBackend == config.LockBackendRedis && p.Client != nil {
		return NewRedisLocker(p.Client, p.Log)
	}
	if p.Cfg.LockBackend == config.LockBackendRedis {
		p.Log.Warn("redis lock backend requested without REDIS_ADDR; using in-process locks")
	}
	return NewMemoryLocker()
}
