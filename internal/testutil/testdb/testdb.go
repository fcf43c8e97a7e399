// Package testdb opens an in-memory SQLite database carrying the service schema.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE features (
		id BIGINT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		feature_type TEXT NOT NULL,
		default_value TEXT NOT NULL,
		unit TEXT,
		dimension TEXT,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		display_order INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE plans (
		id BIGINT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		price_monthly BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		display_order INTEGER NOT NULL DEFAULT 0,
		revision TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE plan_features (
		plan_id BIGINT NOT NULL,
		feature_code TEXT NOT NULL,
		value TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (plan_id, feature_code)
	)`,
	`CREATE TABLE tenant_subscriptions (
		tenant_id BIGINT PRIMARY KEY,
		plan_code TEXT,
		plan_revision TEXT,
		billing_status TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		current_period_end DATETIME NOT NULL,
		last_reset_at DATETIME NOT NULL,
		cancelled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE tenant_features (
		tenant_id BIGINT NOT NULL,
		feature_code TEXT NOT NULL,
		value TEXT,
		custom_value TEXT,
		custom_expires_at DATETIME,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, feature_code)
	)`,
	`CREATE TABLE usage_counters (
		tenant_id BIGINT NOT NULL,
		dimension TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, dimension)
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database named after the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
