package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Plan, error)
	Update(ctx context.Context, db *gorm.DB, plan *Plan) error

	ListFeatures(ctx context.Context, db *gorm.DB, planIDs []snowflake.ID) ([]PlanFeature, error)
	ReplaceFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID, features []PlanFeature) error

	// CountTenants counts non-cancelled subscriptions on the plan.
	CountTenants(ctx context.Context, db *gorm.DB, code string) (int64, error)
}
