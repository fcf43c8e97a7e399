// Package domain describes per-tenant usage counters and consumption decisions.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Counter is one tenant's running total for a dimension in the current period.
type Counter struct {
	TenantID  snowflake.ID `gorm:"primaryKey"`
	Dimension string       `gorm:"primaryKey;type:text"`
	Count     int64        `gorm:"not null;default:0"`
	UpdatedAt time.Time    `gorm:"not null"`
}

func (Counter) TableName() string { return "usage_counters" }

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// ClassifyStatus maps a display percentage onto the configured thresholds.
func ClassifyStatus(percentage, warning, danger int64) Status {
	switch {
	case percentage >= danger:
		return StatusDanger
	case percentage >= warning:
		return StatusWarning
	default:
		return StatusSuccess
	}
}

// Decision is the outcome of a consumption check. Denied decisions are not errors.
type Decision struct {
	TenantID    snowflake.ID `json:"tenant_id"`
	Dimension   string       `json:"dimension"`
	FeatureCode string       `json:"feature_code"`
	Amount      int64        `json:"amount"`
	Allowed     bool         `json:"allowed"`
	Current     int64        `json:"current"`
	Limit       int64        `json:"limit"`
}

// Err returns a LimitExceededError for a denied decision and nil otherwise.
func (d *Decision) Err() error {
	if d == nil || d.Allowed {
		return nil
	}
	return &LimitExceededError{Dimension: d.Dimension, Current: d.Current, Limit: d.Limit}
}

type LimitExceededError struct {
	Dimension string
	Current   int64
	Limit     int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit_exceeded: %s at %d of %d", e.Dimension, e.Current, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

type DimensionUsage struct {
	FeatureCode string  `json:"feature_code"`
	Name        string  `json:"name"`
	Unit        *string `json:"unit,omitempty"`
	Current     int64   `json:"current"`
	Limit       int64   `json:"limit"`
	Unlimited   bool    `json:"unlimited"`
	Remaining   *int64  `json:"remaining"`
	Percentage  int64   `json:"percentage"`
	Status      Status  `json:"status"`
}

type Report struct {
	TenantID    snowflake.ID              `json:"tenant_id"`
	PeriodStart time.Time                 `json:"period_start"`
	PeriodEnd   time.Time                 `json:"period_end"`
	Dimensions  map[string]DimensionUsage `json:"dimensions"`
}

type ResetSummary struct {
	Scanned int `json:"scanned"`
	Reset   int `json:"reset"`
	Failed  int `json:"failed"`
}
