package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FeatureType string

const (
	FeatureTypeBoolean FeatureType = "boolean"
	FeatureTypeLimit   FeatureType = "limit"
)

func (t FeatureType) Valid() bool {
	return t == FeatureTypeBoolean || t == FeatureTypeLimit
}

type Category string

const (
	CategoryCore          Category = "core"
	CategorySurveys       Category = "surveys"
	CategoryResponses     Category = "responses"
	CategoryDistribution  Category = "distribution"
	CategoryAnalytics     Category = "analytics"
	CategoryIntegrations  Category = "integrations"
	CategoryBranding      Category = "branding"
	CategoryCollaboration Category = "collaboration"
	CategoryStorage       Category = "storage"
	CategoryAutomation    Category = "automation"
	CategorySupport       Category = "support"
)

var categories = map[Category]struct{}{
	CategoryCore:          {},
	CategorySurveys:       {},
	CategoryResponses:     {},
	CategoryDistribution:  {},
	CategoryAnalytics:     {},
	CategoryIntegrations:  {},
	CategoryBranding:      {},
	CategoryCollaboration: {},
	CategoryStorage:       {},
	CategoryAutomation:    {},
	CategorySupport:       {},
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// ValidCode reports whether code is lowercase snake-case.
func ValidCode(code string) bool {
	return len(code) <= 64 && codePattern.MatchString(code)
}

type FeatureDefinition struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code         string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name         string            `json:"name" gorm:"type:text;not null"`
	Description  *string           `json:"description,omitempty" gorm:"type:text"`
	Category     Category          `json:"category" gorm:"type:text;not null"`
	Type         FeatureType       `json:"type" gorm:"column:feature_type;type:text;not null"`
	DefaultValue Value             `json:"default_value" gorm:"column:default_value"`
	Unit         *string           `json:"unit,omitempty" gorm:"type:text"`
	Dimension    *string           `json:"dimension,omitempty" gorm:"type:text"`
	IsPublic     bool              `json:"is_public" gorm:"not null;default:false"`
	IsActive     bool              `json:"is_active" gorm:"not null;default:true"`
	DisplayOrder int               `json:"display_order" gorm:"not null;default:0"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (FeatureDefinition) TableName() string { return "features" }

// MeteredDimension is the usage dimension counted against a limit feature.
// Boolean features are never metered.
func (f FeatureDefinition) MeteredDimension() string {
	if f.Type != FeatureTypeLimit {
		return ""
	}
	if f.Dimension != nil && *f.Dimension != "" {
		return *f.Dimension
	}
	return f.Code
}
