package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies through the gorm adapter and seeds the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"role":   role,
		"object": object,
		"action": action,
	}
	if actor, ok := actorcontext.ActorFromContext(ctx); ok {
		metadata["actor"] = actor.Type
	}
	_ = s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata:   metadata,
	})
}

func subject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions (read and metered actions)
		{subject(RoleMember), ObjectFeature, ActionFeatureView},
		{subject(RoleMember), ObjectPlan, ActionPlanView},
		{subject(RoleMember), ObjectTenant, ActionTenantView},
		{subject(RoleMember), ObjectUsage, ActionUsageView},
		{subject(RoleMember), ObjectUsage, ActionUsageConsume},

		// Support permissions
		{subject(RoleSupport), ObjectTenant, ActionTenantOverride},
		{subject(RoleSupport), ObjectAuditLog, ActionAuditLogView},

		// Admin permissions
		{subject(RoleAdmin), ObjectFeature, ActionFeatureCreate},
		{subject(RoleAdmin), ObjectFeature, ActionFeatureUpdate},
		{subject(RoleAdmin), ObjectFeature, ActionFeatureDeactivate},
		{subject(RoleAdmin), ObjectPlan, ActionPlanCreate},
		{subject(RoleAdmin), ObjectPlan, ActionPlanUpdate},
		{subject(RoleAdmin), ObjectTenant, ActionTenantProvision},
		{subject(RoleAdmin), ObjectTenant, ActionTenantApplyPlan},
		{subject(RoleAdmin), ObjectTenant, ActionTenantUpdateStatus},
		{subject(RoleAdmin), ObjectUsage, ActionUsageReset},

		// Owner permissions
		{subject(RoleOwner), ObjectTenant, ActionTenantCancel},

		// System permissions (scheduler and internal callers)
		{subject(RoleSystem), ObjectFeature, "*"},
		{subject(RoleSystem), ObjectPlan, "*"},
		{subject(RoleSystem), ObjectTenant, "*"},
		{subject(RoleSystem), ObjectUsage, "*"},
		{subject(RoleSystem), ObjectAuditLog, "*"},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{subject(RoleOwner), subject(RoleAdmin)},
		{subject(RoleAdmin), subject(RoleSupport)},
		{subject(RoleSupport), subject(RoleMember)},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}
