package repository

import (
	"context"

	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const featureColumns = `id, code, name, description, category, feature_type, default_value, unit, dimension,
	is_public, is_active, display_order, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, def *domain.FeatureDefinition) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		def.Code,
		def.Name,
		def.Description,
		def.Category,
		def.Type,
		def.DefaultValue,
		def.Unit,
		def.Dimension,
		def.IsPublic,
		def.IsActive,
		def.DisplayOrder,
		def.Metadata,
		def.CreatedAt,
		def.UpdatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.FeatureDefinition, error) {
	var def domain.FeatureDefinition
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE code = ?`,
		code,
	).Scan(&def).Error
	if err != nil {
		return nil, err
	}
	if def.ID == 0 {
		return nil, nil
	}
	return &def, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.FeatureDefinition, error) {
	var items []domain.FeatureDefinition
	stmt := db.WithContext(ctx).Model(&domain.FeatureDefinition{})
	if filter.Category != nil {
		stmt = stmt.Where("category = ?", *filter.Category)
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("is_active = ?", *filter.IsActive)
	}
	if err := stmt.Order("display_order ASC").Order("code ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, def *domain.FeatureDefinition) error {
	if def == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET code = ?, name = ?, description = ?, category = ?, feature_type = ?, default_value = ?, unit = ?,
		     dimension = ?, is_public = ?, is_active = ?, display_order = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		def.Code,
		def.Name,
		def.Description,
		def.Category,
		def.Type,
		def.DefaultValue,
		def.Unit,
		def.Dimension,
		def.IsPublic,
		def.IsActive,
		def.DisplayOrder,
		def.Metadata,
		def.UpdatedAt,
		def.ID,
	).Error
}

func (r *repo) IsReferenced(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var planRefs int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM plan_features WHERE feature_code = ?`,
		code,
	).Scan(&planRefs).Error; err != nil {
		return false, err
	}
	if planRefs > 0 {
		return true, nil
	}

	var tenantRefs int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM tenant_features WHERE feature_code = ?`,
		code,
	).Scan(&tenantRefs).Error; err != nil {
		return false, err
	}
	return tenantRefs > 0, nil
}
