package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/cache"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const catalogKey = "catalog"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock
	Config   *config.EntitlementsConfigHolder `optional:"true"`
	AuditSvc auditdomain.Service              `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      *config.EntitlementsConfigHolder
	auditSvc auditdomain.Service
	catalog  cache.Cache[string, *domain.Catalog]
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("feature.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config,
		auditSvc: p.AuditSvc,
		catalog:  cache.NewTTLCache[string, *domain.Catalog](),
	}
}

func (s *Service) Get(ctx context.Context, code string) (*domain.FeatureDefinition, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := catalog.Get(strings.TrimSpace(code))
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &def, nil
}

func (s *Service) ByDimension(ctx context.Context, dimension string) (*domain.FeatureDefinition, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := catalog.ByDimension(strings.TrimSpace(dimension))
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &def, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.FeatureDefinition, error) {
	if req.Category != nil && !req.Category.Valid() {
		return nil, domain.ErrInvalidCategory
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) Catalog(ctx context.Context) (*domain.Catalog, error) {
	if catalog, ok := s.catalog.Get(catalogKey); ok {
		return catalog, nil
	}

	items, err := s.repo.List(ctx, s.db, domain.ListRequest{})
	if err != nil {
		return nil, err
	}
	catalog := domain.NewCatalog(items)
	s.catalog.Set(catalogKey, catalog, s.cfg.Get().CatalogCacheTTL)
	return catalog, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.FeatureDefinition, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = codeFromName(name)
	}
	if !domain.ValidCode(code) {
		return nil, domain.ErrInvalidCode
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}
	if !req.Category.Valid() {
		return nil, domain.ErrInvalidCategory
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := s.clock.Now()
	def := &domain.FeatureDefinition{
		ID:           s.genID.Generate(),
		Code:         code,
		Name:         name,
		Description:  trimmedPtr(req.Description),
		Category:     req.Category,
		Type:         req.Type,
		DefaultValue: req.DefaultValue,
		Unit:         trimmedPtr(req.Unit),
		Dimension:    trimmedPtr(req.Dimension),
		IsPublic:     req.IsPublic,
		IsActive:     isActive,
		DisplayOrder: req.DisplayOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Metadata != nil {
		def.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := normalizeValueFields(def); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateCode
	}
	if err := s.ensureDimensionFree(ctx, def); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, def); err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.ActionFeatureCreated, def, nil)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}
	s.invalidate()

	s.log.Info("feature created", zap.String("code", def.Code), zap.String("type", string(def.Type)))
	return def, nil
}

func (s *Service) Update(ctx context.Context, code string, req domain.UpdateRequest) (*domain.FeatureDefinition, error) {
	return s.update(ctx, code, req, auditdomain.ActionFeatureUpdated)
}

func (s *Service) update(ctx context.Context, code string, req domain.UpdateRequest, action string) (*domain.FeatureDefinition, error) {
	def, err := s.repo.FindByCode(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, domain.ErrNotFound
	}

	codeChanged := req.Code != nil && strings.TrimSpace(*req.Code) != def.Code
	typeChanged := req.Type != nil && *req.Type != def.Type
	if codeChanged || typeChanged {
		referenced, err := s.repo.IsReferenced(ctx, s.db, def.Code)
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, domain.ErrImmutableField
		}
	}

	if codeChanged {
		newCode := strings.TrimSpace(*req.Code)
		if !domain.ValidCode(newCode) {
			return nil, domain.ErrInvalidCode
		}
		existing, err := s.repo.FindByCode(ctx, s.db, newCode)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, domain.ErrDuplicateCode
		}
		def.Code = newCode
	}
	if typeChanged {
		if !req.Type.Valid() {
			return nil, domain.ErrInvalidType
		}
		def.Type = *req.Type
		if req.DefaultValue == nil {
			def.DefaultValue = domain.Value{}
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		def.Name = name
	}
	if req.Description != nil {
		def.Description = trimmedPtr(req.Description)
	}
	if req.Category != nil {
		if !req.Category.Valid() {
			return nil, domain.ErrInvalidCategory
		}
		def.Category = *req.Category
	}
	if req.DefaultValue != nil {
		def.DefaultValue = *req.DefaultValue
	}
	if req.Unit != nil {
		def.Unit = trimmedPtr(req.Unit)
	}
	if req.Dimension != nil {
		def.Dimension = trimmedPtr(req.Dimension)
	}
	if req.IsPublic != nil {
		def.IsPublic = *req.IsPublic
	}
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}
	if req.DisplayOrder != nil {
		def.DisplayOrder = *req.DisplayOrder
	}
	if req.Metadata != nil {
		def.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := normalizeValueFields(def); err != nil {
		return nil, err
	}
	if err := s.ensureDimensionFree(ctx, def); err != nil {
		return nil, err
	}

	previousCode := strings.TrimSpace(code)
	def.UpdatedAt = s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, def); err != nil {
			return err
		}
		return s.audit(ctx, tx, action, def, map[string]any{"previous_code": previousCode})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}
	s.invalidate()
	return def, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) (*domain.FeatureDefinition, error) {
	inactive := false
	def, err := s.update(ctx, code, domain.UpdateRequest{IsActive: &inactive}, auditdomain.ActionFeatureDeactivated)
	if err != nil {
		return nil, err
	}
	s.log.Info("feature deactivated", zap.String("code", def.Code))
	return def, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, def *domain.FeatureDefinition, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetFeature,
		TargetID:   def.Code,
		Metadata:   metadata,
	})
}

func (s *Service) ensureDimensionFree(ctx context.Context, def *domain.FeatureDefinition) error {
	dimension := def.MeteredDimension()
	if dimension == "" {
		return nil
	}
	catalog, err := s.freshCatalog(ctx)
	if err != nil {
		return err
	}
	if other, ok := catalog.ByDimension(dimension); ok && other.ID != def.ID {
		return domain.ErrDuplicateDimension
	}
	return nil
}

func (s *Service) freshCatalog(ctx context.Context) (*domain.Catalog, error) {
	s.invalidate()
	return s.Catalog(ctx)
}

func (s *Service) invalidate() {
	s.catalog.Delete(catalogKey)
}

// normalizeValueFields fills the default value and enforces the fields that only apply to limits.
func normalizeValueFields(def *domain.FeatureDefinition) error {
	if !def.DefaultValue.IsSet() {
		switch def.Type {
		case domain.FeatureTypeBoolean:
			def.DefaultValue = domain.BoolValue(false)
		case domain.FeatureTypeLimit:
			def.DefaultValue = domain.LimitValue(0)
		}
	}
	if !def.DefaultValue.Matches(def.Type) {
		return domain.ErrTypeMismatch
	}
	if err := def.DefaultValue.Validate(); err != nil {
		return err
	}

	if def.Type == domain.FeatureTypeBoolean {
		if def.Dimension != nil {
			return domain.ErrInvalidDimension
		}
		def.Unit = nil
		return nil
	}
	if def.Dimension != nil && !domain.ValidCode(*def.Dimension) {
		return domain.ErrInvalidDimension
	}
	return nil
}

func codeFromName(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
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
