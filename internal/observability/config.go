package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/entitlements/internal/config"
)

// Config holds the normalized observability settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	// SQLLogLevel is passed to the gorm logger: silent, error, warn or info.
	SQLLogLevel  string
	SQLSlowQuery time.Duration
}

func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry

	environment := strings.TrimSpace(t.DeploymentEnv)
	if environment == "" {
		environment = strings.TrimSpace(cfg.Environment)
	}
	protocol := lower(t.OtelProtocol)
	if protocol != "http" {
		protocol = "grpc"
	}
	ratio := t.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}
	slowQuery := t.SQLSlowQuery
	if slowQuery <= 0 {
		slowQuery = 200 * time.Millisecond
	}

	return Config{
		ServiceName:          defaultString(cfg.AppName, "entitlements"),
		Environment:          environment,
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             defaultString(lower(t.LogLevel), "info"),
		LogFormat:            defaultString(lower(t.LogFormat), "json"),
		OtelEnabled:          t.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
		SQLLogLevel:          defaultString(lower(t.SQLLogLevel), "warn"),
		SQLSlowQuery:         slowQuery,
	}
}

// Debug reports whether verbose logging and stack traces are wanted.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func defaultString(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
