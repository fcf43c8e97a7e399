package domain

import (
	"context"
	"errors"

	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

type Service interface {
	Get(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context, req ListRequest) ([]Plan, error)
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	Update(ctx context.Context, code string, req UpdateRequest) (*Plan, error)
	// Lookup is the cached read used when applying or resolving plans.
	Lookup(ctx context.Context, code string) (*Plan, error)
}

type ListRequest struct {
	ActiveOnly bool
}

type FeatureValue struct {
	FeatureCode string              `json:"feature_code"`
	Value       featuredomain.Value `json:"value"`
}

type CreateRequest struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Description  *string        `json:"description"`
	Pricing      Pricing        `json:"pricing"`
	IsActive     *bool          `json:"is_active"`
	DisplayOrder int            `json:"display_order"`
	Features     []FeatureValue `json:"features"`
	Metadata     map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	Name         *string         `json:"name,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Pricing      *Pricing        `json:"pricing,omitempty"`
	IsActive     *bool           `json:"is_active,omitempty"`
	DisplayOrder *int            `json:"display_order,omitempty"`
	Features     *[]FeatureValue `json:"features,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("not_found")
	ErrUnknownPlan       = errors.New("unknown_plan")
	ErrDuplicateCode     = errors.New("duplicate_code")
	ErrDuplicateFeature  = errors.New("duplicate_feature")
	ErrInvalidCode       = errors.New("invalid_code")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidFeatureKey = errors.New("invalid_feature_code")
)
