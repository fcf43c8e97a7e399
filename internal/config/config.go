package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMigrate         bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// UsageStore selects the counter backend: sql, redis or memory.
	UsageStore string
	// LockBackend selects the per-key lock: memory or redis.
	LockBackend string

	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// TelemetryConfig carries the raw logging, tracing and SQL log settings.
// internal/observability normalizes them.
type TelemetryConfig struct {
	DeploymentEnv string
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
	SQLLogLevel   string
	SQLSlowQuery  time.Duration
}

// RateLimitConfig throttles the consume endpoint per tenant. Requires Redis.
type RateLimitConfig struct {
	Enabled      bool
	ConsumeRate  float64
	ConsumeBurst int
}

type SchedulerConfig struct {
	Enabled          bool
	Interval         time.Duration
	JobTimeout       time.Duration
	ResetConcurrency int
	SweepBatchSize   int
	// Jobs is a comma separated allow-list of job names. Empty runs every job.
	Jobs string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "entitlements"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "entitlements"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "entitlements.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBMigrate:         getenvBool("DATABASE_MIGRATE", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		UsageStore:        normalizeBackend(getenv("USAGE_STORE", UsageStoreSQL), UsageStoreSQL),
		LockBackend:       normalizeBackend(getenv("LOCK_BACKEND", LockBackendMemory), LockBackendMemory),
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			Interval:         getenvDuration("SCHEDULER_INTERVAL", time.Hour),
			JobTimeout:       getenvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
			ResetConcurrency: int(getenvInt64("SCHEDULER_RESET_CONCURRENCY", 4)),
			SweepBatchSize:   int(getenvInt64("SCHEDULER_SWEEP_BATCH_SIZE", 500)),
			Jobs:             getenv("SCHEDULER_JOBS", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", false),
			ConsumeRate:  getenvFloat("RATE_LIMIT_CONSUME_RATE", 200),
			ConsumeBurst: int(getenvInt64("RATE_LIMIT_CONSUME_BURST", 400)),
		},
		Telemetry: TelemetryConfig{
			DeploymentEnv: getenv("DEPLOYMENT_ENV", ""),
			LogLevel:      getenv("LOG_LEVEL", "info"),
			LogFormat:     getenv("LOG_FORMAT", "json"),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SQLLogLevel:   getenv("SQL_LOG_LEVEL", "warn"),
			SQLSlowQuery:  getenvDuration("SQL_SLOW_QUERY", 200*time.Millisecond),
		},
	}
	if endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}

	return cfg
}

const (
	UsageStoreSQL    = "sql"
	UsageStoreRedis  = "redis"
	UsageStoreMemory = "memory"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewEntitlementsConfigHolder),
)

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeBackend(raw, def string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return def
	}
	return value
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
