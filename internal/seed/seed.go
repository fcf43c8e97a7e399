package seed

import (
	"context"
	"errors"

	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	"go.uber.org/zap"
)

const (
	FeatureMaxUsers       = "max_users"
	FeatureMaxSurveys     = "max_surveys"
	FeatureResponses      = "responses_per_month"
	FeatureAPICalls       = "api_calls_per_month"
	FeatureStorage        = "storage_mb"
	FeatureAPIAccess      = "api_access"
	FeatureCustomBranding = "custom_branding"
	FeatureSSO            = "sso"
	FeatureWebhooks       = "webhooks"

	DimensionResponses = "responses"
	DimensionAPICalls  = "api_calls"

	PlanFree       = "free"
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

func strPtr(v string) *string { return &v }

// DefaultFeatures is the catalog a fresh installation starts with.
func DefaultFeatures() []featuredomain.CreateRequest {
	limit := featuredomain.LimitValue
	return []featuredomain.CreateRequest{
		{Code: FeatureMaxUsers, Name: "Team members", Category: featuredomain.CategoryCollaboration, Type: featuredomain.FeatureTypeLimit, DefaultValue: limit(1), Unit: strPtr("users"), IsPublic: true, DisplayOrder: 10},
		{Code: FeatureMaxSurveys, Name: "Active surveys", Category: featuredomain.CategorySurveys, Type: featuredomain.FeatureTypeLimit, DefaultValue: limit(3), Unit: strPtr("surveys"), IsPublic: true, DisplayOrder: 20},
		{Code: FeatureResponses, Name: "Responses per month", Category: featuredomain.CategoryResponses, Type: featuredomain.FeatureTypeLimit, DefaultValue: limit(100), Unit: strPtr("responses"), Dimension: strPtr(DimensionResponses), IsPublic: true, DisplayOrder: 30},
		{Code: FeatureAPICalls, Name: "API calls per month", Category: featuredomain.CategoryIntegrations, Type: featuredomain.FeatureTypeLimit, DefaultValue: limit(0), Unit: strPtr("calls"), Dimension: strPtr(DimensionAPICalls), DisplayOrder: 40},
		{Code: FeatureStorage, Name: "File storage", Category: featuredomain.CategoryStorage, Type: featuredomain.FeatureTypeLimit, DefaultValue: limit(100), Unit: strPtr("MB"), IsPublic: true, DisplayOrder: 50},
		{Code: FeatureAPIAccess, Name: "API access", Category: featuredomain.CategoryIntegrations, Type: featuredomain.FeatureTypeBoolean, DefaultValue: featuredomain.BoolValue(false), IsPublic: true, DisplayOrder: 60},
		{Code: FeatureCustomBranding, Name: "Custom branding", Category: featuredomain.CategoryBranding, Type: featuredomain.FeatureTypeBoolean, DefaultValue: featuredomain.BoolValue(false), IsPublic: true, DisplayOrder: 70},
		{Code: FeatureSSO, Name: "Single sign-on", Category: featuredomain.CategoryCollaboration, Type: featuredomain.FeatureTypeBoolean, DefaultValue: featuredomain.BoolValue(false), DisplayOrder: 80},
		{Code: FeatureWebhooks, Name: "Webhooks", Category: featuredomain.CategoryAutomation, Type: featuredomain.FeatureTypeBoolean, DefaultValue: featuredomain.BoolValue(false), DisplayOrder: 90},
	}
}

type tier struct {
	users, surveys, responses, apiCalls, storage int64
	api, branding, sso, webhooks                 bool
}

func (t tier) features() []plandomain.FeatureValue {
	limit := featuredomain.LimitValue
	flag := featuredomain.BoolValue
	return []plandomain.FeatureValue{
		{FeatureCode: FeatureMaxUsers, Value: limit(t.users)},
		{FeatureCode: FeatureMaxSurveys, Value: limit(t.surveys)},
		{FeatureCode: FeatureResponses, Value: limit(t.responses)},
		{FeatureCode: FeatureAPICalls, Value: limit(t.apiCalls)},
		{FeatureCode: FeatureStorage, Value: limit(t.storage)},
		{FeatureCode: FeatureAPIAccess, Value: flag(t.api)},
		{FeatureCode: FeatureCustomBranding, Value: flag(t.branding)},
		{FeatureCode: FeatureSSO, Value: flag(t.sso)},
		{FeatureCode: FeatureWebhooks, Value: flag(t.webhooks)},
	}
}

// DefaultPlans are the public tiers. Prices are in minor units.
func DefaultPlans() []plandomain.CreateRequest {
	unlimited := featuredomain.UnlimitedLimit
	return []plandomain.CreateRequest{
		{
			Code:         PlanFree,
			Name:         "Free",
			DisplayOrder: 10,
			Pricing:      plandomain.Pricing{Monthly: 0, Currency: "USD"},
			Features:     tier{users: 1, surveys: 3, responses: 100, apiCalls: 0, storage: 100}.features(),
		},
		{
			Code:         PlanStarter,
			Name:         "Starter",
			DisplayOrder: 20,
			Pricing:      plandomain.Pricing{Monthly: 2900, Currency: "USD"},
			Features:     tier{users: 5, surveys: 20, responses: 1000, apiCalls: 1000, storage: 1024, api: true}.features(),
		},
		{
			Code:         PlanPro,
			Name:         "Pro",
			DisplayOrder: 30,
			Pricing:      plandomain.Pricing{Monthly: 9900, Currency: "USD"},
			Features:     tier{users: 20, surveys: 100, responses: 10000, apiCalls: 10000, storage: 10240, api: true, branding: true, webhooks: true}.features(),
		},
		{
			Code:         PlanEnterprise,
			Name:         "Enterprise",
			DisplayOrder: 40,
			Pricing:      plandomain.Pricing{Monthly: 49900, Currency: "USD"},
			Features:     tier{users: unlimited, surveys: unlimited, responses: unlimited, apiCalls: unlimited, storage: unlimited, api: true, branding: true, sso: true, webhooks: true}.features(),
		},
	}
}

// EnsureCatalog creates any default feature or plan that does not exist yet.
// Existing rows are left untouched so operator edits survive restarts.
func EnsureCatalog(ctx context.Context, features featuredomain.Service, plans plandomain.Service, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("seed")

	for _, req := range DefaultFeatures() {
		_, err := features.Get(ctx, req.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, featuredomain.ErrNotFound) {
			return err
		}
		if _, err := features.Create(ctx, req); err != nil {
			return err
		}
		log.Info("seeded feature", zap.String("code", req.Code))
	}

	for _, req := range DefaultPlans() {
		_, err := plans.Get(ctx, req.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, plandomain.ErrNotFound) {
			return err
		}
		if _, err := plans.Create(ctx, req); err != nil {
			return err
		}
		log.Info("seeded plan", zap.String("code", req.Code))
	}
	return nil
}
