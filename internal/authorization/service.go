package authorization

import (
	"context"
	"errors"
)

// Service decides whether a role may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}

const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleSupport = "support"
	RoleMember  = "member"
	RoleSystem  = "system"
)

const (
	ObjectFeature  = "feature"
	ObjectPlan     = "plan"
	ObjectTenant   = "tenant"
	ObjectUsage    = "usage"
	ObjectAuditLog = "audit_log"
)

const (
	ActionFeatureView       = "feature.view"
	ActionFeatureCreate     = "feature.create"
	ActionFeatureUpdate     = "feature.update"
	ActionFeatureDeactivate = "feature.deactivate"

	ActionPlanView   = "plan.view"
	ActionPlanCreate = "plan.create"
	ActionPlanUpdate = "plan.update"

	ActionTenantView         = "tenant.view"
	ActionTenantProvision    = "tenant.provision"
	ActionTenantApplyPlan    = "tenant.apply_plan"
	ActionTenantOverride     = "tenant.override"
	ActionTenantUpdateStatus = "tenant.update_status"
	ActionTenantCancel       = "tenant.cancel"
	ActionTenantSweep        = "tenant.sweep_overrides"

	ActionUsageConsume  = "usage.consume"
	ActionUsageView     = "usage.view"
	ActionUsageReset    = "usage.reset"
	ActionUsageResetAll = "usage.reset_all"

	ActionAuditLogView = "audit_log.view"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
