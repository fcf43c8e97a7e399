package db

import (
	"testing"

	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectAcceptsAliases(t *testing.T) {
	for _, kind := range []string{"postgres", "PostgreSQL", "pg", "mysql", "sqlite3"} {
		dialector, err := Dialect(config.Config{DBType: kind, DBPath: t.TempDir() + "/e.db"})
		require.NoError(t, err, kind)
		assert.NotNil(t, dialector)
	}
}

func TestDialectRejectsUnknown(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestPostgresDSNDefaultsSSLMode(t *testing.T) {
	dsn := PostgresDSN(config.Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "ent", DBPort: "5432"})
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname=ent")
}
