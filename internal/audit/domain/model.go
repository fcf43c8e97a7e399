package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionPlanApplied         = "tenant.plan_applied"
	ActionOverrideSet         = "tenant.override_set"
	ActionOverrideCleared     = "tenant.override_cleared"
	ActionOverridesExpired    = "tenant.overrides_expired"
	ActionTenantProvisioned   = "tenant.provisioned"
	ActionTenantStatusChanged = "tenant.status_changed"
	ActionUsageReset          = "tenant.usage_reset"
	ActionFeatureCreated      = "feature.created"
	ActionFeatureUpdated      = "feature.updated"
	ActionFeatureDeactivated  = "feature.deactivated"
	ActionPlanCreated         = "plan.created"
	ActionPlanUpdated         = "plan.updated"

	TargetTenant  = "tenant"
	TargetFeature = "feature"
	TargetPlan    = "plan"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID   *snowflake.ID     `json:"tenant_id,omitempty"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter narrows audit queries. Action matches exactly unless it ends in
// ".", in which case it matches every action in that group ("tenant.").
type ListFilter struct {
	TenantID   *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
