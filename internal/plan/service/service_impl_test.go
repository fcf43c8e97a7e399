package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	featurerepo "github.com/smallbiznis/entitlements/internal/feature/repository"
	featureservice "github.com/smallbiznis/entitlements/internal/feature/service"
	"github.com/smallbiznis/entitlements/internal/plan/domain"
	"github.com/smallbiznis/entitlements/internal/plan/repository"
	"github.com/smallbiznis/entitlements/internal/testutil/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupPlanService(t *testing.T) (domain.Service, featuredomain.Service, *gorm.DB) {
	t.Helper()

	db := testdb.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	holder := config.NewStaticEntitlementsConfigHolder(config.DefaultEntitlementsConfig())

	features := featureservice.New(featureservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   featurerepo.Provide(),
		Clock:  clk,
		Config: holder,
	})
	for _, req := range []featuredomain.CreateRequest{
		{Code: "max_users", Name: "Max users", Category: featuredomain.CategoryCollaboration, Type: featuredomain.FeatureTypeLimit, DefaultValue: featuredomain.LimitValue(1)},
		{Code: "api_access", Name: "API access", Category: featuredomain.CategoryIntegrations, Type: featuredomain.FeatureTypeBoolean},
		{Code: "legacy_export", Name: "Legacy export", Category: featuredomain.CategoryCore, Type: featuredomain.FeatureTypeBoolean},
	} {
		_, err := features.Create(context.Background(), req)
		require.NoError(t, err)
	}
	_, err = features.Deactivate(context.Background(), "legacy_export")
	require.NoError(t, err)

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repository.Provide(),
		FeatureSvc: features,
		Clock:      clk,
		Config:     holder,
	})
	return svc, features, db
}

func TestCreatePlanWithFeatures(t *testing.T) {
	svc, _, _ := setupPlanService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, domain.CreateRequest{
		Code:    "pro",
		Name:    "Pro",
		Pricing: domain.Pricing{Monthly: 4900, Currency: "usd"},
		Features: []domain.FeatureValue{
			{FeatureCode: "max_users", Value: featuredomain.LimitValue(20)},
			{FeatureCode: "api_access", Value: featuredomain.BoolValue(true)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", plan.Pricing.Currency)
	assert.NotEmpty(t, plan.Revision)

	got, err := svc.Get(ctx, "pro")
	require.NoError(t, err)
	require.Len(t, got.Features, 2)
	assert.Equal(t, "max_users", got.Features[0].FeatureCode)
	value, ok := got.ValueOf("max_users")
	require.True(t, ok)
	limit, _ := value.AsLimit()
	assert.Equal(t, int64(20), limit)
	assert.False(t, got.InUse)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _, _ := setupPlanService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code:     "bad",
		Name:     "Bad",
		Features: []domain.FeatureValue{{FeatureCode: "max_users", Value: featuredomain.BoolValue(true)}},
	})
	assert.ErrorIs(t, err, featuredomain.ErrTypeMismatch)

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code:     "bad",
		Name:     "Bad",
		Features: []domain.FeatureValue{{FeatureCode: "nope", Value: featuredomain.BoolValue(true)}},
	})
	assert.ErrorIs(t, err, featuredomain.ErrUnknownFeature)

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code:     "bad",
		Name:     "Bad",
		Features: []domain.FeatureValue{{FeatureCode: "legacy_export", Value: featuredomain.BoolValue(true)}},
	})
	assert.ErrorIs(t, err, featuredomain.ErrUnknownFeature)

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code: "bad",
		Name: "Bad",
		Features: []domain.FeatureValue{
			{FeatureCode: "api_access", Value: featuredomain.BoolValue(true)},
			{FeatureCode: "api_access", Value: featuredomain.BoolValue(false)},
		},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateFeature)

	_, err = svc.Create(ctx, domain.CreateRequest{Code: "bad", Name: "Bad", Pricing: domain.Pricing{Monthly: -1}})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = svc.Create(ctx, domain.CreateRequest{Code: "free", Name: "Free"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{Code: "free", Name: "Free again"})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func TestUpdatePlanBumpsRevisionAndReportsInUse(t *testing.T) {
	svc, _, db := setupPlanService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{
		Code:     "starter",
		Name:     "Starter",
		Features: []domain.FeatureValue{{FeatureCode: "max_users", Value: featuredomain.LimitValue(5)}},
	})
	require.NoError(t, err)

	cached, err := svc.Lookup(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, created.Revision, cached.Revision)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Exec(
		`INSERT INTO tenant_subscriptions (tenant_id, plan_code, plan_revision, billing_status, billing_cycle,
			current_period_end, last_reset_at, created_at, updated_at)
		 VALUES (7, 'starter', ?, 'active', 'monthly', ?, ?, ?, ?)`,
		created.Revision, now, now, now, now,
	).Error)

	features := []domain.FeatureValue{{FeatureCode: "max_users", Value: featuredomain.UnlimitedValue()}}
	updated, err := svc.Update(ctx, "starter", domain.UpdateRequest{Features: &features})
	require.NoError(t, err)
	assert.True(t, updated.InUse)
	assert.NotEqual(t, created.Revision, updated.Revision)

	cached, err = svc.Lookup(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, updated.Revision, cached.Revision)
	value, ok := cached.ValueOf("max_users")
	require.True(t, ok)
	assert.True(t, value.IsUnlimited())

	inactive := false
	_, err = svc.Update(ctx, "starter", domain.UpdateRequest{IsActive: &inactive})
	require.NoError(t, err)

	active, err := svc.List(ctx, domain.ListRequest{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Features, 1)

	_, err = svc.Update(ctx, "missing", domain.UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
