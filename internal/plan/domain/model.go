package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"gorm.io/datatypes"
)

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9]*([_-][a-z0-9]+)*$`)

func ValidCode(code string) bool {
	return len(code) <= 64 && codePattern.MatchString(code)
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// Pricing is informational; billing happens elsewhere.
type Pricing struct {
	Monthly  int64  `json:"monthly" gorm:"column:price_monthly;not null;default:0"`
	Currency string `json:"currency" gorm:"column:currency;type:text;not null"`
}

type Plan struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code         string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name         string            `json:"name" gorm:"type:text;not null"`
	Description  *string           `json:"description,omitempty" gorm:"type:text"`
	Pricing      Pricing           `json:"pricing" gorm:"embedded"`
	IsActive     bool              `json:"is_active" gorm:"not null;default:true"`
	DisplayOrder int               `json:"display_order" gorm:"not null;default:0"`
	Revision     string            `json:"revision" gorm:"type:text;not null"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	Features []PlanFeature `json:"features" gorm:"-"`
	// InUse is true while at least one live tenant is assigned the plan.
	InUse bool `json:"in_use" gorm:"-"`
}

func (Plan) TableName() string { return "plans" }

// ValueOf returns the plan's value for a feature code.
func (p Plan) ValueOf(code string) (featuredomain.Value, bool) {
	for _, f := range p.Features {
		if f.FeatureCode == code {
			return f.Value, true
		}
	}
	return featuredomain.Value{}, false
}

type PlanFeature struct {
	PlanID      snowflake.ID        `json:"-" gorm:"primaryKey"`
	FeatureCode string              `json:"feature_code" gorm:"primaryKey;type:text"`
	Value       featuredomain.Value `json:"value" gorm:"column:value"`
	Position    int                 `json:"-" gorm:"not null;default:0"`
}

func (PlanFeature) TableName() string { return "plan_features" }
