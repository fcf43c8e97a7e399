package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const planColumns = `id, code, name, description, price_monthly, currency, is_active, display_order,
	revision, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Description,
		plan.Pricing.Monthly,
		plan.Pricing.Currency,
		plan.IsActive,
		plan.DisplayOrder,
		plan.Revision,
		plan.Metadata,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE code = ?`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Plan, error) {
	var plans []domain.Plan
	stmt := db.WithContext(ctx).Model(&domain.Plan{})
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if err := stmt.Order("display_order ASC").Order("code ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET name = ?, description = ?, price_monthly = ?, currency = ?, is_active = ?, display_order = ?,
		     revision = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		plan.Name,
		plan.Description,
		plan.Pricing.Monthly,
		plan.Pricing.Currency,
		plan.IsActive,
		plan.DisplayOrder,
		plan.Revision,
		plan.Metadata,
		plan.UpdatedAt,
		plan.ID,
	).Error
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB, planIDs []snowflake.ID) ([]domain.PlanFeature, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}
	var items []domain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, feature_code, value, position
		   FROM plan_features
		  WHERE plan_id IN ?
		  ORDER BY plan_id ASC, position ASC`,
		planIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ReplaceFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID, features []domain.PlanFeature) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM plan_features WHERE plan_id = ?`,
		planID,
	).Error; err != nil {
		return err
	}

	for i, feature := range features {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO plan_features (plan_id, feature_code, value, position)
			 VALUES (?, ?, ?, ?)`,
			planID,
			feature.FeatureCode,
			feature.Value,
			i,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) CountTenants(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tenant_subscriptions WHERE plan_code = ? AND billing_status <> 'cancelled'`,
		code,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
