// Package domain holds the per-tenant subscription aggregate and its feature snapshot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

type BillingStatus string

const (
	BillingStatusActive    BillingStatus = "active"
	BillingStatusTrialing  BillingStatus = "trialing"
	BillingStatusPastDue   BillingStatus = "past_due"
	BillingStatusCancelled BillingStatus = "cancelled"
	BillingStatusUnpaid    BillingStatus = "unpaid"
)

func (s BillingStatus) Valid() bool {
	switch s {
	case BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue, BillingStatusCancelled, BillingStatusUnpaid:
		return true
	default:
		return false
	}
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// Advance returns the period end one cycle after end.
func (c BillingCycle) Advance(end time.Time) time.Time {
	if c == BillingCycleYearly {
		return end.AddDate(1, 0, 0)
	}
	return end.AddDate(0, 1, 0)
}

// TenantSubscription is the single aggregate stored per tenant. Rows are never hard-deleted.
type TenantSubscription struct {
	TenantID         snowflake.ID  `json:"tenant_id" gorm:"primaryKey"`
	PlanCode         *string       `json:"plan_code" gorm:"type:text"`
	PlanRevision     *string       `json:"plan_revision,omitempty" gorm:"type:text"`
	BillingStatus    BillingStatus `json:"billing_status" gorm:"type:text;not null"`
	BillingCycle     BillingCycle  `json:"billing_cycle" gorm:"type:text;not null"`
	CurrentPeriodEnd time.Time     `json:"current_period_end" gorm:"not null"`
	LastResetAt      time.Time     `json:"last_reset_at" gorm:"not null"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Features []TenantFeatureState `json:"features,omitempty" gorm:"-"`
}

func (TenantSubscription) TableName() string { return "tenant_subscriptions" }

func (s TenantSubscription) Cancelled() bool {
	return s.BillingStatus == BillingStatusCancelled
}

// TenantFeatureState carries the plan snapshot value for one feature plus an optional override.
// Value is unset when the row only exists to hold an override.
type TenantFeatureState struct {
	TenantID        snowflake.ID        `json:"-" gorm:"primaryKey"`
	FeatureCode     string              `json:"feature_code" gorm:"primaryKey;type:text"`
	Value           featuredomain.Value `json:"value" gorm:"column:value"`
	CustomValue     featuredomain.Value `json:"custom_value" gorm:"column:custom_value"`
	CustomExpiresAt *time.Time          `json:"custom_expires_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (TenantFeatureState) TableName() string { return "tenant_features" }

// ActiveOverride reports the custom value when it is set and not yet expired at now.
func (s TenantFeatureState) ActiveOverride(now time.Time) (featuredomain.Value, bool) {
	if !s.CustomValue.IsSet() {
		return featuredomain.Value{}, false
	}
	if s.CustomExpiresAt != nil && !now.Before(*s.CustomExpiresAt) {
		return featuredomain.Value{}, false
	}
	return s.CustomValue, true
}
