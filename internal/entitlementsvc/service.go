// Package entitlementsvc is the entry point used by the HTTP layer and the
// scheduler. It authorizes the caller, delegates to the domain services and
// translates their errors into *Error values.
package entitlementsvc

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/authorization"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("entitlementsvc",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Authz         authorization.Service
	Features      featuredomain.Service
	Plans         plandomain.Service
	Subscriptions subscriptiondomain.Service
	Entitlements  entitlementdomain.Service
	Usage         usagedomain.Service
	Audit         auditdomain.Service
}

type Service struct {
	log           *zap.Logger
	tracer        trace.Tracer
	authz         authorization.Service
	features      featuredomain.Service
	plans         plandomain.Service
	subscriptions subscriptiondomain.Service
	entitlements  entitlementdomain.Service
	usage         usagedomain.Service
	audit         auditdomain.Service
}

func New(p Params) *Service {
	return &Service{
		log:           p.Log.Named("entitlementsvc"),
		tracer:        otel.Tracer("entitlements/service"),
		authz:         p.Authz,
		features:      p.Features,
		plans:         p.Plans,
		subscriptions: p.Subscriptions,
		entitlements:  p.Entitlements,
		usage:         p.Usage,
		audit:         p.Audit,
	}
}

// call authorizes the actor in ctx for object/action, runs fn inside a span
// and translates its error.
func (s *Service) call(ctx context.Context, name, object, action string, tenantID snowflake.ID, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "entitlementsvc."+name)
	defer span.End()
	if tenantID != 0 {
		span.SetAttributes(attribute.String("tenant_id", tenantID.String()))
	}

	err := s.authorize(ctx, object, action)
	if err == nil {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}

	translated := translate(err)
	kind := KindOf(translated)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	if kind == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		s.log.Error("entitlement call failed",
			zap.String("operation", name),
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
	return translated
}

func (s *Service) authorize(ctx context.Context, object, action string) error {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return authorization.ErrInvalidActor
	}
	return s.authz.Authorize(ctx, actor.Role, object, action)
}

func (s *Service) ProvisionTenant(ctx context.Context, req entitlementdomain.ProvisionRequest) (*entitlementdomain.Entitlements, error) {
	var out *entitlementdomain.Entitlements
	err := s.call(ctx, "ProvisionTenant", authorization.ObjectTenant, authorization.ActionTenantProvision, req.TenantID, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.Provision(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) GetTenant(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	var out *subscriptiondomain.TenantSubscription
	err := s.call(ctx, "GetTenant", authorization.ObjectTenant, authorization.ActionTenantView, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.subscriptions.Get(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *Service) ListTenants(ctx context.Context, req subscriptiondomain.ListRequest) (subscriptiondomain.ListResponse, error) {
	var out subscriptiondomain.ListResponse
	err := s.call(ctx, "ListTenants", authorization.ObjectTenant, authorization.ActionTenantView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.subscriptions.List(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) UpdateTenantStatus(ctx context.Context, tenantID snowflake.ID, status subscriptiondomain.BillingStatus) (*subscriptiondomain.TenantSubscription, error) {
	action := authorization.ActionTenantUpdateStatus
	if status == subscriptiondomain.BillingStatusCancelled {
		action = authorization.ActionTenantCancel
	}
	var out *subscriptiondomain.TenantSubscription
	err := s.call(ctx, "UpdateTenantStatus", authorization.ObjectTenant, action, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.subscriptions.UpdateStatus(ctx, tenantID, status)
		if err == nil {
			s.entitlements.Invalidate(tenantID)
		}
		return err
	})
	return out, err
}

func (s *Service) CancelTenant(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	var out *subscriptiondomain.TenantSubscription
	err := s.call(ctx, "CancelTenant", authorization.ObjectTenant, authorization.ActionTenantCancel, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.subscriptions.Cancel(ctx, tenantID)
		if err == nil {
			s.entitlements.Invalidate(tenantID)
		}
		return err
	})
	return out, err
}

func (s *Service) ApplyPlan(ctx context.Context, tenantID snowflake.ID, planCode string) (*entitlementdomain.Entitlements, error) {
	var out *entitlementdomain.Entitlements
	err := s.call(ctx, "ApplyPlan", authorization.ObjectTenant, authorization.ActionTenantApplyPlan, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.ApplyPlan(ctx, tenantID, planCode)
		return err
	})
	return out, err
}

func (s *Service) SetCustomFeature(ctx context.Context, req entitlementdomain.SetCustomFeatureRequest) (*entitlementdomain.Entitlements, error) {
	var out *entitlementdomain.Entitlements
	err := s.call(ctx, "SetCustomFeature", authorization.ObjectTenant, authorization.ActionTenantOverride, req.TenantID, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.SetCustomFeature(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) ClearCustomFeature(ctx context.Context, tenantID snowflake.ID, featureCode string) (*entitlementdomain.Entitlements, error) {
	var out *entitlementdomain.Entitlements
	err := s.call(ctx, "ClearCustomFeature", authorization.ObjectTenant, authorization.ActionTenantOverride, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.ClearCustomFeature(ctx, tenantID, featureCode)
		return err
	})
	return out, err
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID) (*entitlementdomain.Entitlements, error) {
	var out *entitlementdomain.Entitlements
	err := s.call(ctx, "Resolve", authorization.ObjectTenant, authorization.ActionTenantView, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.Resolve(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *Service) SweepExpiredOverrides(ctx context.Context, batchSize int) (int, error) {
	var out int
	err := s.call(ctx, "SweepExpiredOverrides", authorization.ObjectTenant, authorization.ActionTenantSweep, 0, func(ctx context.Context) error {
		var err error
		out, err = s.entitlements.SweepExpiredOverrides(ctx, batchSize)
		return err
	})
	return out, err
}

// CheckAndConsume returns a decision for both outcomes. A denial is reported
// through Decision.Allowed, not through the error.
func (s *Service) CheckAndConsume(ctx context.Context, tenantID snowflake.ID, dimension string, amount int64) (*usagedomain.Decision, error) {
	var out *usagedomain.Decision
	err := s.call(ctx, "CheckAndConsume", authorization.ObjectUsage, authorization.ActionUsageConsume, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.usage.CheckAndConsume(ctx, tenantID, dimension, amount)
		if err == nil {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("dimension", dimension),
				attribute.Bool("allowed", out.Allowed),
			)
		}
		return err
	})
	return out, err
}

func (s *Service) GetUsageReport(ctx context.Context, tenantID snowflake.ID) (*usagedomain.Report, error) {
	var out *usagedomain.Report
	err := s.call(ctx, "GetUsageReport", authorization.ObjectUsage, authorization.ActionUsageView, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.usage.GetUsageReport(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *Service) ResetPeriod(ctx context.Context, tenantID snowflake.ID) (bool, error) {
	var out bool
	err := s.call(ctx, "ResetPeriod", authorization.ObjectUsage, authorization.ActionUsageReset, tenantID, func(ctx context.Context) error {
		var err error
		out, err = s.usage.ResetPeriod(ctx, tenantID)
		return err
	})
	return out, err
}

// ResetAllDuePeriods returns the summary even when some tenants failed.
func (s *Service) ResetAllDuePeriods(ctx context.Context) (usagedomain.ResetSummary, error) {
	var out usagedomain.ResetSummary
	err := s.call(ctx, "ResetAllDuePeriods", authorization.ObjectUsage, authorization.ActionUsageResetAll, 0, func(ctx context.Context) error {
		var err error
		out, err = s.usage.ResetAllDuePeriods(ctx)
		return err
	})
	return out, err
}

func (s *Service) ListFeatures(ctx context.Context, req featuredomain.ListRequest) ([]featuredomain.FeatureDefinition, error) {
	var out []featuredomain.FeatureDefinition
	err := s.call(ctx, "ListFeatures", authorization.ObjectFeature, authorization.ActionFeatureView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.features.List(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) GetFeature(ctx context.Context, code string) (*featuredomain.FeatureDefinition, error) {
	var out *featuredomain.FeatureDefinition
	err := s.call(ctx, "GetFeature", authorization.ObjectFeature, authorization.ActionFeatureView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.features.Get(ctx, code)
		return err
	})
	return out, err
}

func (s *Service) CreateFeature(ctx context.Context, req featuredomain.CreateRequest) (*featuredomain.FeatureDefinition, error) {
	var out *featuredomain.FeatureDefinition
	err := s.call(ctx, "CreateFeature", authorization.ObjectFeature, authorization.ActionFeatureCreate, 0, func(ctx context.Context) error {
		var err error
		out, err = s.features.Create(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) UpdateFeature(ctx context.Context, code string, req featuredomain.UpdateRequest) (*featuredomain.FeatureDefinition, error) {
	var out *featuredomain.FeatureDefinition
	err := s.call(ctx, "UpdateFeature", authorization.ObjectFeature, authorization.ActionFeatureUpdate, 0, func(ctx context.Context) error {
		var err error
		out, err = s.features.Update(ctx, code, req)
		return err
	})
	return out, err
}

func (s *Service) DeactivateFeature(ctx context.Context, code string) (*featuredomain.FeatureDefinition, error) {
	var out *featuredomain.FeatureDefinition
	err := s.call(ctx, "DeactivateFeature", authorization.ObjectFeature, authorization.ActionFeatureDeactivate, 0, func(ctx context.Context) error {
		var err error
		out, err = s.features.Deactivate(ctx, code)
		return err
	})
	return out, err
}

func (s *Service) ListPlans(ctx context.Context, req plandomain.ListRequest) ([]plandomain.Plan, error) {
	var out []plandomain.Plan
	err := s.call(ctx, "ListPlans", authorization.ObjectPlan, authorization.ActionPlanView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.plans.List(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) GetPlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	var out *plandomain.Plan
	err := s.call(ctx, "GetPlan", authorization.ObjectPlan, authorization.ActionPlanView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.plans.Get(ctx, code)
		return err
	})
	return out, err
}

func (s *Service) CreatePlan(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	var out *plandomain.Plan
	err := s.call(ctx, "CreatePlan", authorization.ObjectPlan, authorization.ActionPlanCreate, 0, func(ctx context.Context) error {
		var err error
		out, err = s.plans.Create(ctx, req)
		return err
	})
	return out, err
}

func (s *Service) UpdatePlan(ctx context.Context, code string, req plandomain.UpdateRequest) (*plandomain.Plan, error) {
	var out *plandomain.Plan
	err := s.call(ctx, "UpdatePlan", authorization.ObjectPlan, authorization.ActionPlanUpdate, 0, func(ctx context.Context) error {
		var err error
		out, err = s.plans.Update(ctx, code, req)
		return err
	})
	return out, err
}

func (s *Service) ListAuditLogs(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	var out auditdomain.ListAuditLogResponse
	err := s.call(ctx, "ListAuditLogs", authorization.ObjectAuditLog, authorization.ActionAuditLogView, 0, func(ctx context.Context) error {
		var err error
		out, err = s.audit.List(ctx, req)
		return err
	})
	return out, err
}
