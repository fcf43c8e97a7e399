package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, def *FeatureDefinition) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*FeatureDefinition, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]FeatureDefinition, error)
	Update(ctx context.Context, db *gorm.DB, def *FeatureDefinition) error
	// IsReferenced reports whether any plan or tenant state points at code.
	IsReferenced(ctx context.Context, db *gorm.DB, code string) (bool, error)
}
