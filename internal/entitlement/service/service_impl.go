package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/cache"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/observability/metrics"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     *config.EntitlementsConfigHolder
	Locker     keylock.Locker
	SubRepo    subscriptiondomain.Repository
	FeatureSvc featuredomain.Service
	PlanSvc    plandomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	Metrics    *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        *config.EntitlementsConfigHolder
	locker     keylock.Locker
	subRepo    subscriptiondomain.Repository
	featureSvc featuredomain.Service
	planSvc    plandomain.Service
	auditSvc   auditdomain.Service
	metrics    *metrics.Metrics
	cache      cache.EntitlementCache
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		clock:      p.Clock,
		cfg:        p.Config,
		locker:     p.Locker,
		subRepo:    p.SubRepo,
		featureSvc: p.FeatureSvc,
		planSvc:    p.PlanSvc,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
		cache:      cache.NewEntitlementCache(p.Clock.Now),
	}
}

func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.Entitlements, error) {
	if req.TenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = subscriptiondomain.BillingCycleMonthly
	}
	if !cycle.Valid() {
		return nil, subscriptiondomain.ErrInvalidCycle
	}
	status := req.Status
	if status == "" {
		status = subscriptiondomain.BillingStatusActive
	}
	if !status.Valid() || status == subscriptiondomain.BillingStatusCancelled {
		return nil, subscriptiondomain.ErrInvalidStatus
	}

	planCode := strings.TrimSpace(req.PlanCode)
	if planCode == "" {
		planCode = s.cfg.Get().DefaultPlanCode
	}
	plan, err := s.assignablePlan(ctx, planCode)
	if err != nil {
		return nil, err
	}

	release, err := s.lockTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	code, revision := plan.Code, plan.Revision
	sub := &subscriptiondomain.TenantSubscription{
		TenantID:         req.TenantID,
		PlanCode:         &code,
		PlanRevision:     &revision,
		BillingStatus:    status,
		BillingCycle:     cycle,
		CurrentPeriodEnd: cycle.Advance(now),
		LastResetAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.subRepo.FindByTenant(ctx, tx, req.TenantID, true)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrAlreadyProvisioned
		}
		if err := s.subRepo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.subRepo.ReplaceFeatures(ctx, tx, req.TenantID, snapshot(req.TenantID, plan, now)); err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			TenantID:   &req.TenantID,
			Action:     auditdomain.ActionTenantProvisioned,
			TargetType: auditdomain.TargetTenant,
			TargetID:   req.TenantID.String(),
			Metadata:   map[string]any{"plan_code": plan.Code, "plan_revision": plan.Revision},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(req.TenantID)

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("plan_code", plan.Code),
	)
	return s.Resolve(ctx, req.TenantID)
}

func (s *Service) ApplyPlan(ctx context.Context, tenantID snowflake.ID, planCode string) (*domain.Entitlements, error) {
	plan, err := s.assignablePlan(ctx, strings.TrimSpace(planCode))
	if err != nil {
		return nil, err
	}

	release, err := s.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	var previous string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockedSubscription(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub.PlanCode != nil {
			previous = *sub.PlanCode
		}
		if err := s.subRepo.ReplaceFeatures(ctx, tx, tenantID, snapshot(tenantID, plan, now)); err != nil {
			return err
		}
		if err := s.subRepo.UpdatePlan(ctx, tx, tenantID, plan.Code, plan.Revision, now); err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     auditdomain.ActionPlanApplied,
			TargetType: auditdomain.TargetTenant,
			TargetID:   tenantID.String(),
			Metadata: map[string]any{
				"previous_plan_code": previous,
				"plan_code":          plan.Code,
				"plan_revision":      plan.Revision,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(tenantID)
	s.metrics.RecordPlanApplied(ctx, plan.Code)

	s.log.Info("plan applied",
		zap.String("tenant_id", tenantID.String()),
		zap.String("previous_plan_code", previous),
		zap.String("plan_code", plan.Code),
	)
	return s.Resolve(ctx, tenantID)
}

func (s *Service) SetCustomFeature(ctx context.Context, req domain.SetCustomFeatureRequest) (*domain.Entitlements, error) {
	code := strings.TrimSpace(req.FeatureCode)
	if code == "" {
		return nil, domain.ErrInvalidFeatureCode
	}
	catalog, err := s.featureSvc.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.Assignable(code, req.Value); err != nil {
		return nil, err
	}

	release, err := s.lockTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	expiresAt := req.ExpiresAt
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockedSubscription(ctx, tx, req.TenantID); err != nil {
			return err
		}
		if _, err := s.subRepo.PurgeExpiredOverrides(ctx, tx, req.TenantID, now); err != nil {
			return err
		}
		if err := s.subRepo.UpsertOverride(ctx, tx, subscriptiondomain.TenantFeatureState{
			TenantID:        req.TenantID,
			FeatureCode:     code,
			CustomValue:     req.Value,
			CustomExpiresAt: expiresAt,
			UpdatedAt:       now,
		}); err != nil {
			return err
		}
		metadata := map[string]any{
			"feature_code": code,
			"value":        req.Value.String(),
		}
		if expiresAt != nil {
			metadata["expires_at"] = expiresAt.Format(time.RFC3339)
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			TenantID:   &req.TenantID,
			Action:     auditdomain.ActionOverrideSet,
			TargetType: auditdomain.TargetTenant,
			TargetID:   req.TenantID.String(),
			Metadata:   metadata,
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(req.TenantID)
	return s.Resolve(ctx, req.TenantID)
}

func (s *Service) ClearCustomFeature(ctx context.Context, tenantID snowflake.ID, featureCode string) (*domain.Entitlements, error) {
	code := strings.TrimSpace(featureCode)
	if code == "" {
		return nil, domain.ErrInvalidFeatureCode
	}

	release, err := s.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockedSubscription(ctx, tx, tenantID); err != nil {
			return err
		}
		cleared, err := s.subRepo.ClearOverride(ctx, tx, tenantID, code)
		if err != nil {
			return err
		}
		if !cleared {
			return domain.ErrOverrideNotFound
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     auditdomain.ActionOverrideCleared,
			TargetType: auditdomain.TargetTenant,
			TargetID:   tenantID.String(),
			Metadata:   map[string]any{"feature_code": code},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(tenantID)
	return s.Resolve(ctx, tenantID)
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID) (*domain.Entitlements, error) {
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	if ents, ok := s.cache.Get(tenantID); ok {
		s.metrics.RecordResolveCache(ctx, true)
		return ents, nil
	}
	s.metrics.RecordResolveCache(ctx, false)
	generation := s.cache.Generation(tenantID)

	sub, err := s.subRepo.FindByTenant(ctx, s.db, tenantID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	states, err := s.subRepo.ListFeatures(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.featureSvc.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	planCode := s.cfg.Get().DefaultPlanCode
	if sub.PlanCode != nil && *sub.PlanCode != "" {
		planCode = *sub.PlanCode
	}
	byCode := make(map[string]subscriptiondomain.TenantFeatureState, len(states))
	for _, state := range states {
		byCode[state.FeatureCode] = state
	}

	var plan *plandomain.Plan
	if needsPlan(catalog, byCode) {
		plan, err = s.planSvc.Lookup(ctx, planCode)
		if err != nil && !errors.Is(err, plandomain.ErrNotFound) {
			return nil, err
		}
	}

	now := s.clock.Now()
	ents := &domain.Entitlements{
		TenantID:    tenantID,
		PlanCode:    planCode,
		LastResetAt: sub.LastResetAt,
		ResolvedAt:  now,
		Features:    make(map[string]domain.EffectiveValue),
	}
	if sub.PlanRevision != nil {
		ents.PlanRevision = *sub.PlanRevision
	}

	for _, def := range catalog.All() {
		state, held := byCode[def.Code]
		// Deactivated features stay with tenants that already hold them.
		if !def.IsActive && !held && !planReferences(plan, def.Code) {
			continue
		}
		ents.Features[def.Code] = s.effectiveValue(def, state, plan, now)
	}

	s.cache.Set(tenantID, generation, ents, s.cfg.Get().ResolverCacheTTL)
	return ents, nil
}

func (s *Service) effectiveValue(def featuredomain.FeatureDefinition, state subscriptiondomain.TenantFeatureState, plan *plandomain.Plan, now time.Time) domain.EffectiveValue {
	effective := domain.EffectiveValue{
		FeatureCode: def.Code,
		Type:        def.Type,
		Value:       def.DefaultValue,
		Source:      domain.SourceDefault,
	}

	switch {
	case state.Value.IsSet() && state.Value.Matches(def.Type):
		effective.Value = state.Value
		effective.Source = domain.SourcePlan
	case state.Value.IsSet():
		s.log.Warn("ignoring snapshot value with mismatched type",
			zap.String("tenant_id", state.TenantID.String()),
			zap.String("feature_code", def.Code),
		)
	default:
		if plan != nil {
			if value, ok := plan.ValueOf(def.Code); ok && value.Matches(def.Type) {
				effective.Value = value
				effective.Source = domain.SourcePlan
			}
		}
	}

	if custom, ok := state.ActiveOverride(now); ok {
		if custom.Matches(def.Type) {
			effective.Value = custom
			effective.Source = domain.SourceCustom
			effective.ExpiresAt = state.CustomExpiresAt
		} else {
			s.log.Warn("ignoring override with mismatched type",
				zap.String("tenant_id", state.TenantID.String()),
				zap.String("feature_code", def.Code),
			)
		}
	}
	return effective
}

func (s *Service) SweepExpiredOverrides(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := s.clock.Now()
	tenants, err := s.subRepo.ListTenantsWithExpiredOverrides(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	var errs []error
	for _, tenantID := range tenants {
		if err := s.sweepTenant(ctx, tenantID, now); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		swept++
	}
	return swept, errors.Join(errs...)
}

func (s *Service) sweepTenant(ctx context.Context, tenantID snowflake.ID, now time.Time) error {
	release, err := s.lockTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	defer release()

	var purged int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		purged, err = s.subRepo.PurgeExpiredOverrides(ctx, tx, tenantID, now)
		if err != nil || purged == 0 {
			return err
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			Action:     auditdomain.ActionOverridesExpired,
			TargetType: auditdomain.TargetTenant,
			TargetID:   tenantID.String(),
			Metadata:   map[string]any{"purged": purged},
		})
	})
	if err != nil {
		return err
	}
	if purged > 0 {
		s.cache.Invalidate(tenantID)
	}
	return nil
}

func (s *Service) Invalidate(tenantID snowflake.ID) {
	s.cache.Invalidate(tenantID)
}

func (s *Service) assignablePlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	if code == "" {
		return nil, domain.ErrUnknownPlan
	}
	plan, err := s.planSvc.Lookup(ctx, code)
	if errors.Is(err, plandomain.ErrNotFound) {
		return nil, domain.ErrUnknownPlan
	}
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.ErrUnknownPlan
	}
	return plan, nil
}

func (s *Service) lockTenant(ctx context.Context, tenantID snowflake.ID) (keylock.Release, error) {
	release, err := s.locker.Acquire(ctx, "tenant:"+tenantID.String(), s.cfg.Get().LockTimeout)
	if errors.Is(err, keylock.ErrTimeout) {
		return nil, domain.ErrBusy
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (s *Service) lockedSubscription(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	sub, err := s.subRepo.FindByTenant(ctx, tx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	if sub.Cancelled() {
		return nil, domain.ErrTenantCancelled
	}
	return sub, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, entry)
}

// snapshot copies the plan's feature values into tenant rows without overrides.
func snapshot(tenantID snowflake.ID, plan *plandomain.Plan, now time.Time) []subscriptiondomain.TenantFeatureState {
	states := make([]subscriptiondomain.TenantFeatureState, 0, len(plan.Features))
	for _, feature := range plan.Features {
		states = append(states, subscriptiondomain.TenantFeatureState{
			TenantID:    tenantID,
			FeatureCode: feature.FeatureCode,
			Value:       feature.Value,
			UpdatedAt:   now,
		})
	}
	return states
}

func planReferences(plan *plandomain.Plan, code string) bool {
	if plan == nil {
		return false
	}
	_, ok := plan.ValueOf(code)
	return ok
}

func needsPlan(catalog *featuredomain.Catalog, states map[string]subscriptiondomain.TenantFeatureState) bool {
	for _, def := range catalog.All() {
		if state, ok := states[def.Code]; !ok || !state.Value.IsSet() {
			return true
		}
	}
	return false
}
