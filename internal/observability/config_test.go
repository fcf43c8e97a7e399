package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizes(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:  "production",
		OTLPEndpoint: " collector:4318 ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "WARN",
			OtelProtocol:  "HTTP",
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "entitlements", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.Equal(t, 200*time.Millisecond, cfg.SQLSlowQuery)
	assert.False(t, cfg.Debug())
}

func TestDeploymentEnvOverridesEnvironment(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "production", Telemetry: config.TelemetryConfig{DeploymentEnv: "local"}})
	assert.Equal(t, "local", cfg.Environment)
	assert.True(t, cfg.Debug())
}
