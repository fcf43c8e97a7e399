package domain

import (
	"context"
	"errors"
)

type Service interface {
	Get(ctx context.Context, code string) (*FeatureDefinition, error)
	List(ctx context.Context, req ListRequest) ([]FeatureDefinition, error)
	Create(ctx context.Context, req CreateRequest) (*FeatureDefinition, error)
	Update(ctx context.Context, code string, req UpdateRequest) (*FeatureDefinition, error)
	Deactivate(ctx context.Context, code string) (*FeatureDefinition, error)
	ByDimension(ctx context.Context, dimension string) (*FeatureDefinition, error)
	// Catalog returns the cached snapshot used on hot paths.
	Catalog(ctx context.Context) (*Catalog, error)
}

type ListRequest struct {
	Category *Category
	IsActive *bool
}

type CreateRequest struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Description  *string        `json:"description"`
	Category     Category       `json:"category"`
	Type         FeatureType    `json:"type"`
	DefaultValue Value          `json:"default_value"`
	Unit         *string        `json:"unit"`
	Dimension    *string        `json:"dimension"`
	IsPublic     bool           `json:"is_public"`
	IsActive     *bool          `json:"is_active"`
	DisplayOrder int            `json:"display_order"`
	Metadata     map[string]any `json:"metadata"`
}

// UpdateRequest is a patch; nil fields are left unchanged.
type UpdateRequest struct {
	Code         *string        `json:"code,omitempty"`
	Type         *FeatureType   `json:"type,omitempty"`
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Category     *Category      `json:"category,omitempty"`
	DefaultValue *Value         `json:"default_value,omitempty"`
	Unit         *string        `json:"unit,omitempty"`
	Dimension    *string        `json:"dimension,omitempty"`
	IsPublic     *bool          `json:"is_public,omitempty"`
	IsActive     *bool          `json:"is_active,omitempty"`
	DisplayOrder *int           `json:"display_order,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrDuplicateCode      = errors.New("duplicate_code")
	ErrDuplicateDimension = errors.New("duplicate_dimension")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidType        = errors.New("invalid_feature_type")
	ErrInvalidCategory    = errors.New("invalid_category")
	ErrInvalidValue       = errors.New("invalid_value")
	ErrInvalidDimension   = errors.New("invalid_dimension")
	ErrTypeMismatch       = errors.New("type_mismatch")
	ErrImmutableField     = errors.New("immutable_field")
	ErrUnknownFeature     = errors.New("unknown_feature")
)
