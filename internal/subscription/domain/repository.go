package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *TenantSubscription) error
	// FindByTenant returns nil when the tenant has no subscription. forUpdate takes a row lock where the dialect supports it.
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*TenantSubscription, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]TenantSubscription, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, planCode, revision string, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status BillingStatus, cancelledAt *time.Time, now time.Time) error

	ListFeatures(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]TenantFeatureState, error)
	ReplaceFeatures(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, states []TenantFeatureState) error
	UpsertOverride(ctx context.Context, db *gorm.DB, state TenantFeatureState) error
	ClearOverride(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, featureCode string) (bool, error)
	PurgeExpiredOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error)
	ListTenantsWithExpiredOverrides(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)

	// ClaimReset moves last_reset_at to now only if it precedes periodStart.
	ClaimReset(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodStart, now time.Time) (bool, error)
	// MarkReset moves last_reset_at to now unconditionally.
	MarkReset(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error
	UpdatePeriodEnd(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodEnd, now time.Time) error
	ListDue(ctx context.Context, db *gorm.DB, periodStart time.Time, afterTenantID snowflake.ID, limit int) ([]TenantSubscription, error)
}

type ListFilter struct {
	Status        *BillingStatus
	PlanCode      *string
	AfterTenantID snowflake.ID
	Limit         int
}
