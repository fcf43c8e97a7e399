package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID) (*domain.TenantSubscription, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	features, err := s.repo.ListFeatures(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	sub.Features = features
	return sub, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	limit := req.Limit()
	filter := domain.ListFilter{Limit: limit + 1}
	if status := strings.TrimSpace(req.Status); status != "" {
		value := domain.BillingStatus(strings.ToLower(status))
		if !value.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = &value
	}
	if planCode := strings.TrimSpace(req.PlanCode); planCode != "" {
		filter.PlanCode = &planCode
	}
	cursor, err := req.Cursor()
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	if cursor != nil {
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.AfterTenantID = after
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, limit, func(sub domain.TenantSubscription) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(sub.TenantID.Int64(), 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	return domain.ListResponse{PageInfo: pageInfo, Subscriptions: items}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, tenantID snowflake.ID, status domain.BillingStatus) (*domain.TenantSubscription, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if status == domain.BillingStatusCancelled {
		return s.Cancel(ctx, tenantID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenant(ctx, tx, tenantID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNotFound
		}
		return s.repo.UpdateStatus(ctx, tx, tenantID, status, nil, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID)
}

func (s *Service) Cancel(ctx context.Context, tenantID snowflake.ID) (*domain.TenantSubscription, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenant(ctx, tx, tenantID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrNotFound
		}
		if sub.Cancelled() {
			return nil
		}
		now := s.clock.Now()
		return s.repo.UpdateStatus(ctx, tx, tenantID, domain.BillingStatusCancelled, &now, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant subscription cancelled", zap.String("tenant_id", tenantID.String()))
	return s.Get(ctx, tenantID)
}
