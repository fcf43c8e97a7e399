package logger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"github.com/smallbiznis/entitlements/internal/tenantcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := Build(Config{Level: "loud"})
	assert.Error(t, err)

	log, err := Build(Config{Level: "debug", Debug: true, Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))
}

func TestWithContextOmitsAbsentFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")

	ctx := actorcontext.WithRequestID(context.Background(), "req-1")
	ctx = tenantcontext.WithTenantID(ctx, snowflake.ID(9))
	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{Type: actorcontext.ActorTypeUser, ID: "u-1", Role: "member"})
	WithContext(ctx, base).Info("enriched")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].Context)

	fields := entries[1].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "9", fields["tenant_id"])
	assert.Equal(t, "member", fields["actor_role"])
	assert.NotContains(t, fields, "trace_id")
}
