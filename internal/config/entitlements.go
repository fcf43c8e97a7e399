package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EntitlementsConfig holds runtime tunables that operators may change without a restart.
type EntitlementsConfig struct {
	DefaultPlanCode  string        `mapstructure:"defaultPlanCode"`
	WarningPercent   int64         `mapstructure:"warningPercent"`
	DangerPercent    int64         `mapstructure:"dangerPercent"`
	ResolverCacheTTL time.Duration `mapstructure:"resolverCacheTTL"`
	CatalogCacheTTL  time.Duration `mapstructure:"catalogCacheTTL"`
	LockTimeout      time.Duration `mapstructure:"lockTimeout"`
}

func DefaultEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		DefaultPlanCode:  "free",
		WarningPercent:   80,
		DangerPercent:    100,
		ResolverCacheTTL: 5 * time.Second,
		CatalogCacheTTL:  time.Minute,
		LockTimeout:      250 * time.Millisecond,
	}
}

type EntitlementsConfigHolder struct {
	current atomic.Value // holds EntitlementsConfig
}

// NewStaticEntitlementsConfigHolder wraps a fixed config, mainly for tests.
func NewStaticEntitlementsConfigHolder(cfg EntitlementsConfig) *EntitlementsConfigHolder {
	holder := &EntitlementsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEntitlementsConfigHolder(log *zap.Logger) (*EntitlementsConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.entitlements")

	v := viper.New()
	v.SetConfigName("entitlements")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/entitlements")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLEMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementsConfig()
	v.SetDefault("entitlements.defaultPlanCode", defaults.DefaultPlanCode)
	v.SetDefault("entitlements.warningPercent", defaults.WarningPercent)
	v.SetDefault("entitlements.dangerPercent", defaults.DangerPercent)
	v.SetDefault("entitlements.resolverCacheTTL", defaults.ResolverCacheTTL)
	v.SetDefault("entitlements.catalogCacheTTL", defaults.CatalogCacheTTL)
	v.SetDefault("entitlements.lockTimeout", defaults.LockTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeEntitlementsConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEntitlementsConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEntitlementsConfig(v)
		if err != nil {
			log.Warn("entitlements config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("entitlements config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EntitlementsConfigHolder) Get() EntitlementsConfig {
	if h == nil {
		return DefaultEntitlementsConfig()
	}
	return h.current.Load().(EntitlementsConfig)
}

func decodeEntitlementsConfig(v *viper.Viper) (EntitlementsConfig, error) {
	var cfg EntitlementsConfig
	if err := v.UnmarshalKey("entitlements", &cfg); err != nil {
		return EntitlementsConfig{}, err
	}
	cfg.DefaultPlanCode = strings.TrimSpace(cfg.DefaultPlanCode)
	if err := ValidateEntitlementsConfig(cfg); err != nil {
		return EntitlementsConfig{}, err
	}
	return cfg, nil
}

func ValidateEntitlementsConfig(cfg EntitlementsConfig) error {
	if cfg.DefaultPlanCode == "" {
		return errors.New("entitlements.defaultPlanCode cannot be empty")
	}
	if cfg.WarningPercent <= 0 || cfg.DangerPercent <= 0 {
		return errors.New("entitlements status thresholds must be positive")
	}
	if cfg.WarningPercent >= cfg.DangerPercent {
		return errors.New("entitlements.warningPercent must be below dangerPercent")
	}
	if cfg.LockTimeout <= 0 {
		return errors.New("entitlements.lockTimeout must be positive")
	}
	return nil
}
