package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/cache"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/plan/domain"
	"github.com/smallbiznis/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultCurrency = "USD"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	FeatureSvc featuredomain.Service
	Clock      clock.Clock
	Config     *config.EntitlementsConfigHolder `optional:"true"`
	AuditSvc   auditdomain.Service              `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	featureSvc featuredomain.Service
	clock      clock.Clock
	cfg        *config.EntitlementsConfigHolder
	auditSvc   auditdomain.Service
	plans      cache.Cache[string, *domain.Plan]
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("plan.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		featureSvc: p.FeatureSvc,
		clock:      p.Clock,
		cfg:        p.Config,
		auditSvc:   p.AuditSvc,
		plans:      cache.NewTTLCache[string, *domain.Plan](),
	}
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Plan, error) {
	plan, err := s.load(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrNotFound
	}

	count, err := s.repo.CountTenants(ctx, s.db, plan.Code)
	if err != nil {
		return nil, err
	}
	plan.InUse = count > 0
	return plan, nil
}

func (s *Service) Lookup(ctx context.Context, code string) (*domain.Plan, error) {
	key := cache.Key(code)
	if plan, ok := s.plans.Get(key); ok {
		return plan, nil
	}

	plan, err := s.load(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrNotFound
	}
	s.plans.Set(key, plan, s.cfg.Get().CatalogCacheTTL)
	return plan, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Plan, error) {
	plans, err := s.repo.List(ctx, s.db, req.ActiveOnly)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return plans, nil
	}

	ids := make([]snowflake.ID, 0, len(plans))
	index := make(map[snowflake.ID]int, len(plans))
	for i, plan := range plans {
		ids = append(ids, plan.ID)
		index[plan.ID] = i
	}
	features, err := s.repo.ListFeatures(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, feature := range features {
		if i, ok := index[feature.PlanID]; ok {
			plans[i].Features = append(plans[i].Features, feature)
		}
	}
	for i := range plans {
		count, err := s.repo.CountTenants(ctx, s.db, plans[i].Code)
		if err != nil {
			return nil, err
		}
		plans[i].InUse = count > 0
	}
	return plans, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Plan, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if !domain.ValidCode(code) {
		return nil, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	pricing, err := normalizePricing(req.Pricing)
	if err != nil {
		return nil, err
	}
	features, err := s.validateFeatures(ctx, req.Features)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateCode
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		ID:           s.genID.Generate(),
		Code:         code,
		Name:         name,
		Description:  trimmedPtr(req.Description),
		Pricing:      pricing,
		IsActive:     isActive,
		DisplayOrder: req.DisplayOrder,
		Revision:     ulid.Make().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Metadata != nil {
		plan.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, plan); err != nil {
			return err
		}
		if err := s.repo.ReplaceFeatures(ctx, tx, plan.ID, features); err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.ActionPlanCreated, plan, map[string]any{"revision": plan.Revision})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}
	plan.Features = withPlanID(plan.ID, features)

	s.log.Info("plan created", zap.String("plan_code", plan.Code), zap.Int("features", len(features)))
	return plan, nil
}

func (s *Service) Update(ctx context.Context, code string, req domain.UpdateRequest) (*domain.Plan, error) {
	plan, err := s.load(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		plan.Name = name
	}
	if req.Description != nil {
		plan.Description = trimmedPtr(req.Description)
	}
	if req.Pricing != nil {
		pricing, err := normalizePricing(*req.Pricing)
		if err != nil {
			return nil, err
		}
		plan.Pricing = pricing
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}
	if req.DisplayOrder != nil {
		plan.DisplayOrder = *req.DisplayOrder
	}
	if req.Metadata != nil {
		plan.Metadata = datatypes.JSONMap(req.Metadata)
	}

	features := plan.Features
	if req.Features != nil {
		features, err = s.validateFeatures(ctx, *req.Features)
		if err != nil {
			return nil, err
		}
	}

	count, err := s.repo.CountTenants(ctx, s.db, plan.Code)
	if err != nil {
		return nil, err
	}
	plan.InUse = count > 0
	if plan.InUse {
		s.log.Warn("updating plan assigned to tenants; existing snapshots keep their values",
			zap.String("plan_code", plan.Code),
			zap.Int64("tenants", count),
		)
	}

	plan.Revision = ulid.Make().String()
	plan.UpdatedAt = s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, plan); err != nil {
			return err
		}
		if req.Features != nil {
			if err := s.repo.ReplaceFeatures(ctx, tx, plan.ID, features); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, auditdomain.ActionPlanUpdated, plan, map[string]any{
			"revision": plan.Revision,
			"in_use":   plan.InUse,
		})
	})
	if err != nil {
		return nil, err
	}
	plan.Features = withPlanID(plan.ID, features)
	s.plans.Delete(cache.Key(plan.Code))
	return plan, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, plan *domain.Plan, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetPlan,
		TargetID:   plan.Code,
		Metadata:   metadata,
	})
}

func (s *Service) load(ctx context.Context, code string) (*domain.Plan, error) {
	plan, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil || plan == nil {
		return nil, err
	}
	features, err := s.repo.ListFeatures(ctx, s.db, []snowflake.ID{plan.ID})
	if err != nil {
		return nil, err
	}
	plan.Features = features
	return plan, nil
}

func (s *Service) validateFeatures(ctx context.Context, values []domain.FeatureValue) ([]domain.PlanFeature, error) {
	if len(values) == 0 {
		return nil, nil
	}
	catalog, err := s.featureSvc.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]domain.PlanFeature, 0, len(values))
	for i, item := range values {
		code := strings.TrimSpace(item.FeatureCode)
		if code == "" {
			return nil, domain.ErrInvalidFeatureKey
		}
		if _, ok := seen[code]; ok {
			return nil, domain.ErrDuplicateFeature
		}
		seen[code] = struct{}{}

		if _, err := catalog.Assignable(code, item.Value); err != nil {
			return nil, err
		}
		out = append(out, domain.PlanFeature{
			FeatureCode: code,
			Value:       item.Value,
			Position:    i,
		})
	}
	return out, nil
}

func normalizePricing(p domain.Pricing) (domain.Pricing, error) {
	if p.Monthly < 0 {
		return domain.Pricing{}, domain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !domain.ValidCurrency(currency) {
		return domain.Pricing{}, domain.ErrInvalidCurrency
	}
	return domain.Pricing{Monthly: p.Monthly, Currency: currency}, nil
}

func withPlanID(planID snowflake.ID, features []domain.PlanFeature) []domain.PlanFeature {
	out := make([]domain.PlanFeature, len(features))
	for i, f := range features {
		f.PlanID = planID
		out[i] = f
	}
	return out
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
