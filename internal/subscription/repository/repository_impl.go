package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.TenantSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenant_subscriptions (
			tenant_id, plan_code, plan_revision, billing_status, billing_cycle,
			current_period_end, last_reset_at, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.TenantID,
		sub.PlanCode,
		sub.PlanRevision,
		sub.BillingStatus,
		sub.BillingCycle,
		sub.CurrentPeriodEnd,
		sub.LastResetAt,
		sub.CancelledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*domain.TenantSubscription, error) {
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var sub domain.TenantSubscription
	err := stmt.Where("tenant_id = ?", tenantID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.TenantSubscription, error) {
	stmt := db.WithContext(ctx).Model(&domain.TenantSubscription{})
	if filter.Status != nil {
		stmt = stmt.Where("billing_status = ?", *filter.Status)
	}
	if filter.PlanCode != nil {
		stmt = stmt.Where("plan_code = ?", *filter.PlanCode)
	}
	if filter.AfterTenantID != 0 {
		stmt = stmt.Where("tenant_id > ?", filter.AfterTenantID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []domain.TenantSubscription
	if err := stmt.Order("tenant_id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, planCode, revision string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions SET plan_code = ?, plan_revision = ?, updated_at = ? WHERE tenant_id = ?`,
		planCode,
		revision,
		now,
		tenantID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status domain.BillingStatus, cancelledAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions SET billing_status = ?, cancelled_at = ?, updated_at = ? WHERE tenant_id = ?`,
		status,
		cancelledAt,
		now,
		tenantID,
	).Error
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.TenantFeatureState, error) {
	var items []domain.TenantFeatureState
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, feature_code, value, custom_value, custom_expires_at, updated_at
		   FROM tenant_features
		  WHERE tenant_id = ?
		  ORDER BY feature_code ASC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ReplaceFeatures(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, states []domain.TenantFeatureState) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM tenant_features WHERE tenant_id = ?`,
		tenantID,
	).Error; err != nil {
		return err
	}

	for _, state := range states {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO tenant_features (tenant_id, feature_code, value, custom_value, custom_expires_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tenantID,
			state.FeatureCode,
			state.Value,
			state.CustomValue,
			state.CustomExpiresAt,
			state.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) UpsertOverride(ctx context.Context, db *gorm.DB, state domain.TenantFeatureState) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "feature_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"custom_value", "custom_expires_at", "updated_at"}),
	}).Create(&state).Error
}

func (r *repo) ClearOverride(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, featureCode string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tenant_features SET custom_value = NULL, custom_expires_at = NULL
		 WHERE tenant_id = ? AND feature_code = ? AND custom_value IS NOT NULL`,
		tenantID,
		featureCode,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if err := deleteEmptyRows(ctx, db, tenantID); err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) PurgeExpiredOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tenant_features SET custom_value = NULL, custom_expires_at = NULL
		 WHERE tenant_id = ? AND custom_expires_at IS NOT NULL AND custom_expires_at <= ?`,
		tenantID,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	if err := deleteEmptyRows(ctx, db, tenantID); err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// deleteEmptyRows drops rows that hold neither a snapshot value nor an override.
func deleteEmptyRows(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM tenant_features WHERE tenant_id = ? AND value IS NULL AND custom_value IS NULL`,
		tenantID,
	).Error
}

func (r *repo) ListTenantsWithExpiredOverrides(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT tenant_id
		   FROM tenant_features
		  WHERE custom_expires_at IS NOT NULL AND custom_expires_at <= ?
		  ORDER BY tenant_id ASC
		  LIMIT ?`,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ClaimReset(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodStart, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions SET last_reset_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND last_reset_at < ?`,
		now,
		now,
		tenantID,
		periodStart,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkReset(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions SET last_reset_at = ?, updated_at = ? WHERE tenant_id = ?`,
		now,
		now,
		tenantID,
	).Error
}

func (r *repo) UpdatePeriodEnd(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, periodEnd, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions SET current_period_end = ?, updated_at = ? WHERE tenant_id = ?`,
		periodEnd,
		now,
		tenantID,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, periodStart time.Time, afterTenantID snowflake.ID, limit int) ([]domain.TenantSubscription, error) {
	var items []domain.TenantSubscription
	err := db.WithContext(ctx).
		Where("billing_status <> ?", domain.BillingStatusCancelled).
		Where("last_reset_at < ?", periodStart).
		Where("tenant_id > ?", afterTenantID).
		Order("tenant_id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
