package migration

import (
	"github.com/smallbiznis/entitlements/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(applySchema),
)

func applySchema(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBMigrate {
		return nil
	}
	log = log.Named("migration")
	if conn.Dialector.Name() != "postgres" {
		log.Warn("schema migrations only ship for postgres; skipping", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	result, err := RunMigrations(sqlDB)
	if err != nil {
		log.Error("schema migration failed", zap.Error(err))
		return err
	}
	log.Info("schema up to date", zap.Uint("version", result.Version), zap.Bool("changed", result.Changed))
	return nil
}
