package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
)

type Service interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Entitlements, error)
	ApplyPlan(ctx context.Context, tenantID snowflake.ID, planCode string) (*Entitlements, error)
	SetCustomFeature(ctx context.Context, req SetCustomFeatureRequest) (*Entitlements, error)
	ClearCustomFeature(ctx context.Context, tenantID snowflake.ID, featureCode string) (*Entitlements, error)
	Resolve(ctx context.Context, tenantID snowflake.ID) (*Entitlements, error)
	SweepExpiredOverrides(ctx context.Context, batchSize int) (int, error)
	// Invalidate drops the cached resolution for a tenant.
	Invalidate(tenantID snowflake.ID)
}

type ProvisionRequest struct {
	TenantID     snowflake.ID                     `json:"tenant_id"`
	PlanCode     string                           `json:"plan_code"`
	BillingCycle subscriptiondomain.BillingCycle  `json:"billing_cycle"`
	Status       subscriptiondomain.BillingStatus `json:"billing_status"`
}

type SetCustomFeatureRequest struct {
	TenantID    snowflake.ID        `json:"tenant_id"`
	FeatureCode string              `json:"feature_code"`
	Value       featuredomain.Value `json:"value"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

var (
	ErrUnknownPlan        = errors.New("unknown_plan")
	ErrOverrideNotFound   = errors.New("override_not_found")
	ErrBusy               = errors.New("busy")
	ErrTenantCancelled    = errors.New("tenant_cancelled")
	ErrInvalidFeatureCode = errors.New("invalid_feature_code")
)
