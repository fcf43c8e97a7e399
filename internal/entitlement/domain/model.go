package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

// Source records where an effective value came from.
type Source string

const (
	SourcePlan    Source = "plan"
	SourceDefault Source = "default"
	SourceCustom  Source = "custom"
)

type EffectiveValue struct {
	FeatureCode string                    `json:"feature_code"`
	Type        featuredomain.FeatureType `json:"type"`
	Value       featuredomain.Value       `json:"value"`
	Source      Source                    `json:"source"`
	ExpiresAt   *time.Time                `json:"expires_at,omitempty"`
}

// Entitlements is the resolved view of one tenant's active features.
type Entitlements struct {
	TenantID     snowflake.ID              `json:"tenant_id"`
	PlanCode     string                    `json:"plan_code"`
	PlanRevision string                    `json:"plan_revision,omitempty"`
	LastResetAt  time.Time                 `json:"last_reset_at"`
	ResolvedAt   time.Time                 `json:"resolved_at"`
	Features     map[string]EffectiveValue `json:"features"`
}

// Enabled reports whether a boolean feature is on. Unknown features are off.
func (e *Entitlements) Enabled(code string) bool {
	if e == nil {
		return false
	}
	v, ok := e.Features[code]
	if !ok {
		return false
	}
	enabled, _ := v.Value.AsBool()
	return enabled
}

// Limit returns the effective limit for a limit feature. -1 means unlimited.
func (e *Entitlements) Limit(code string) (int64, bool) {
	if e == nil {
		return 0, false
	}
	v, ok := e.Features[code]
	if !ok {
		return 0, false
	}
	return v.Value.AsLimit()
}

// NextExpiry returns the earliest override expiry, if any.
func (e *Entitlements) NextExpiry() (time.Time, bool) {
	var next time.Time
	found := false
	if e == nil {
		return next, false
	}
	for _, v := range e.Features {
		if v.ExpiresAt == nil {
			continue
		}
		if !found || v.ExpiresAt.Before(next) {
			next = *v.ExpiresAt
			found = true
		}
	}
	return next, found
}
