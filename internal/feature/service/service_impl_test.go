package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/feature/repository"
	"github.com/smallbiznis/entitlements/internal/testutil/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupFeatureService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db := testdb.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Config: config.NewStaticEntitlementsConfigHolder(config.DefaultEntitlementsConfig()),
	})
	return svc, db
}

func strPtr(v string) *string { return &v }

func TestCreateDerivesCodeFromName(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, domain.CreateRequest{
		Name:         "Max Active Surveys",
		Category:     domain.CategorySurveys,
		Type:         domain.FeatureTypeLimit,
		DefaultValue: domain.LimitValue(3),
		Dimension:    strPtr("active_surveys"),
	})
	require.NoError(t, err)
	assert.Equal(t, "max_active_surveys", def.Code)
	assert.True(t, def.IsActive)

	got, err := svc.ByDimension(ctx, "active_surveys")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	limit, ok := got.DefaultValue.AsLimit()
	require.True(t, ok)
	assert.Equal(t, int64(3), limit)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{
			name: "missing name",
			req:  domain.CreateRequest{Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean},
			want: domain.ErrInvalidName,
		},
		{
			name: "bad code",
			req:  domain.CreateRequest{Code: "Bad-Code", Name: "x", Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean},
			want: domain.ErrInvalidCode,
		},
		{
			name: "bad type",
			req:  domain.CreateRequest{Name: "x", Category: domain.CategoryCore, Type: "counter"},
			want: domain.ErrInvalidType,
		},
		{
			name: "bad category",
			req:  domain.CreateRequest{Name: "x", Category: "games", Type: domain.FeatureTypeBoolean},
			want: domain.ErrInvalidCategory,
		},
		{
			name: "default kind mismatch",
			req:  domain.CreateRequest{Name: "x", Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean, DefaultValue: domain.LimitValue(4)},
			want: domain.ErrTypeMismatch,
		},
		{
			name: "limit below unlimited sentinel",
			req:  domain.CreateRequest{Name: "x", Category: domain.CategoryCore, Type: domain.FeatureTypeLimit, DefaultValue: domain.LimitValue(-2)},
			want: domain.ErrInvalidValue,
		},
		{
			name: "dimension on boolean",
			req:  domain.CreateRequest{Name: "x", Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean, Dimension: strPtr("things")},
			want: domain.ErrInvalidDimension,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateDuplicateCodeAndDimension(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code:     "sms_monthly_limit",
		Name:     "SMS per month",
		Category: domain.CategoryDistribution,
		Type:     domain.FeatureTypeLimit,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code:     "sms_monthly_limit",
		Name:     "SMS again",
		Category: domain.CategoryDistribution,
		Type:     domain.FeatureTypeLimit,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code:      "sms_bonus",
		Name:      "SMS bonus",
		Category:  domain.CategoryDistribution,
		Type:      domain.FeatureTypeLimit,
		Dimension: strPtr("sms_monthly_limit"),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateDimension)
}

func TestUpdateImmutableOnceReferenced(t *testing.T) {
	svc, db := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code:         "max_users",
		Name:         "Max users",
		Category:     domain.CategoryCollaboration,
		Type:         domain.FeatureTypeLimit,
		DefaultValue: domain.LimitValue(1),
	})
	require.NoError(t, err)

	renamed := "max_members"
	updated, err := svc.Update(ctx, "max_users", domain.UpdateRequest{Code: &renamed})
	require.NoError(t, err)
	assert.Equal(t, "max_members", updated.Code)

	require.NoError(t, db.Exec(
		`INSERT INTO plan_features (plan_id, feature_code, value, position) VALUES (1, 'max_members', '5', 0)`,
	).Error)

	again := "max_seats"
	_, err = svc.Update(ctx, "max_members", domain.UpdateRequest{Code: &again})
	assert.ErrorIs(t, err, domain.ErrImmutableField)

	boolean := domain.FeatureTypeBoolean
	_, err = svc.Update(ctx, "max_members", domain.UpdateRequest{Type: &boolean})
	assert.ErrorIs(t, err, domain.ErrImmutableField)

	name := "Team members"
	updated, err = svc.Update(ctx, "max_members", domain.UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Team members", updated.Name)
}

func TestUpdateTypeResetsDefault(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code:         "custom_domain",
		Name:         "Custom domain",
		Category:     domain.CategoryBranding,
		Type:         domain.FeatureTypeLimit,
		DefaultValue: domain.LimitValue(2),
		Unit:         strPtr("domains"),
	})
	require.NoError(t, err)

	boolean := domain.FeatureTypeBoolean
	updated, err := svc.Update(ctx, "custom_domain", domain.UpdateRequest{Type: &boolean})
	require.NoError(t, err)
	assert.Equal(t, domain.FeatureTypeBoolean, updated.Type)
	enabled, ok := updated.DefaultValue.AsBool()
	require.True(t, ok)
	assert.False(t, enabled)
	assert.Nil(t, updated.Unit)
}

func TestDeactivateKeepsDefinitionInCatalog(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code:         "api_access",
		Name:         "API access",
		Category:     domain.CategoryIntegrations,
		Type:         domain.FeatureTypeBoolean,
		DefaultValue: domain.BoolValue(false),
	})
	require.NoError(t, err)

	def, err := svc.Deactivate(ctx, "api_access")
	require.NoError(t, err)
	assert.False(t, def.IsActive)

	got, err := svc.Get(ctx, "api_access")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	catalog, err := svc.Catalog(ctx)
	require.NoError(t, err)
	_, err = catalog.Assignable("api_access", domain.BoolValue(true))
	assert.ErrorIs(t, err, domain.ErrUnknownFeature)

	active := true
	items, err := svc.List(ctx, domain.ListRequest{IsActive: &active})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersByDisplayOrderThenCode(t *testing.T) {
	svc, _ := setupFeatureService(t)
	ctx := context.Background()

	for _, req := range []domain.CreateRequest{
		{Code: "b_feature", Name: "B", Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean, DisplayOrder: 2},
		{Code: "c_feature", Name: "C", Category: domain.CategoryCore, Type: domain.FeatureTypeBoolean, DisplayOrder: 1},
		{Code: "a_feature", Name: "A", Category: domain.CategoryAnalytics, Type: domain.FeatureTypeBoolean, DisplayOrder: 2},
	} {
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"c_feature", "a_feature", "b_feature"}, []string{items[0].Code, items[1].Code, items[2].Code})

	core := domain.CategoryCore
	items, err = svc.List(ctx, domain.ListRequest{Category: &core})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

var errAuditDown = errors.New("audit store down")

type failingAudit struct{}

func (failingAudit) Record(context.Context, *gorm.DB, auditdomain.Entry) error { return errAuditDown }

func (failingAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func TestCatalogWriteRollsBackWhenAuditFails(t *testing.T) {
	db := testdb.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	healthy := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Config: config.NewStaticEntitlementsConfigHolder(config.DefaultEntitlementsConfig()),
	})
	_, err = healthy.Create(ctx, domain.CreateRequest{
		Code:         "api_access",
		Name:         "API access",
		Category:     domain.CategoryIntegrations,
		Type:         domain.FeatureTypeBoolean,
		DefaultValue: domain.BoolValue(false),
	})
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Config:   config.NewStaticEntitlementsConfigHolder(config.DefaultEntitlementsConfig()),
		AuditSvc: failingAudit{},
	})

	_, err = svc.Create(ctx, domain.CreateRequest{
		Code:         "webhooks",
		Name:         "Webhooks",
		Category:     domain.CategoryIntegrations,
		Type:         domain.FeatureTypeBoolean,
		DefaultValue: domain.BoolValue(false),
	})
	require.ErrorIs(t, err, errAuditDown)

	var count int64
	require.NoError(t, db.Model(&domain.FeatureDefinition{}).Where("code = ?", "webhooks").Count(&count).Error)
	assert.Zero(t, count)

	_, err = svc.Deactivate(ctx, "api_access")
	require.ErrorIs(t, err, errAuditDown)

	stored, err := repository.Provide().FindByCode(ctx, db, "api_access")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
}
