package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/smallbiznis/entitlements/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultResetBatch = 200

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Cfg          config.Config
	Config       *config.EntitlementsConfigHolder
	Locker       keylock.Locker
	Store        domain.CounterStore
	SubRepo      subscriptiondomain.Repository
	FeatureSvc   featuredomain.Service
	Entitlements entitlementdomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
	Metrics      *metrics.Metrics    `optional:"true"`
	Hub          *liveevents.Hub     `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	cfg          *config.EntitlementsConfigHolder
	concurrency  int
	locker       keylock.Locker
	store        domain.CounterStore
	subRepo      subscriptiondomain.Repository
	featureSvc   featuredomain.Service
	entitlements entitlementdomain.Service
	auditSvc     auditdomain.Service
	metrics      *metrics.Metrics
	hub          *liveevents.Hub
}

func New(p Params) domain.Service {
	concurrency := p.Cfg.Scheduler.ResetConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("usage.service"),
		clock:        p.Clock,
		cfg:          p.Config,
		concurrency:  concurrency,
		locker:       p.Locker,
		store:        p.Store,
		subRepo:      p.SubRepo,
		featureSvc:   p.FeatureSvc,
		entitlements: p.Entitlements,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,
		hub:          p.Hub,
	}
}

func (s *Service) CheckAndConsume(ctx context.Context, tenantID snowflake.ID, dimension string, amount int64) (*domain.Decision, error) {
	if amount < 1 || amount > domain.MaxConsumeAmount {
		return nil, domain.ErrInvalidAmount
	}
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	dimension = strings.TrimSpace(dimension)
	catalog, err := s.featureSvc.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := catalog.ByDimension(dimension)
	if !ok {
		return nil, domain.ErrUnknownDimension
	}

	ents, err := s.entitlements.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if ents.LastResetAt.Before(clock.MonthStart(s.clock.Now())) {
		if _, err := s.resetPeriod(ctx, tenantID, domain.TriggerRollover); err != nil {
			return nil, err
		}
	}
	limit, ok := ents.Limit(def.Code)
	if !ok {
		return nil, domain.ErrUnknownDimension
	}

	release, err := s.locker.Acquire(ctx, usageLockKey(tenantID, dimension), s.cfg.Get().LockTimeout)
	if errors.Is(err, keylock.ErrTimeout) {
		s.metrics.RecordConsumeBusy(ctx, dimension)
		return nil, domain.ErrBusy
	}
	if err != nil {
		return nil, err
	}
	current, applied, err := s.store.IncrementWithCeiling(ctx, tenantID, dimension, amount, limit)
	release()
	if err != nil {
		return nil, err
	}

	decision := &domain.Decision{
		TenantID:    tenantID,
		Dimension:   dimension,
		FeatureCode: def.Code,
		Amount:      amount,
		Allowed:     applied,
		Current:     current,
		Limit:       limit,
	}
	s.metrics.RecordConsume(ctx, dimension, applied)
	s.hub.Publish(liveevents.ConsumeEvent{
		TenantID:   tenantID,
		Dimension:  dimension,
		Amount:     amount,
		Current:    current,
		Limit:      limit,
		Allowed:    applied,
		OccurredAt: s.clock.Now(),
	})
	if !applied {
		s.log.Debug("consumption denied",
			zap.String("tenant_id", tenantID.String()),
			zap.String("dimension", dimension),
			zap.Int64("current", current),
			zap.Int64("limit", limit),
		)
	}
	return decision, nil
}

func (s *Service) GetUsageReport(ctx context.Context, tenantID snowflake.ID) (*domain.Report, error) {
	if tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}
	ents, err := s.entitlements.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.featureSvc.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	counters, err := s.store.Counters(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	periodStart := clock.MonthStart(now)
	// Counters from a month that has not been rolled over yet belong to the previous period.
	stale := ents.LastResetAt.Before(periodStart)
	cfg := s.cfg.Get()

	report := &domain.Report{
		TenantID:    tenantID,
		PeriodStart: periodStart,
		PeriodEnd:   clock.NextMonthStart(now),
		Dimensions:  make(map[string]domain.DimensionUsage),
	}
	for _, def := range catalog.All() {
		dimension := def.MeteredDimension()
		if dimension == "" {
			continue
		}
		limit, ok := ents.Limit(def.Code)
		if !ok {
			continue
		}
		current := counters[dimension]
		if stale {
			current = 0
		}
		report.Dimensions[dimension] = buildUsage(def, current, limit, cfg.WarningPercent, cfg.DangerPercent)
	}
	return report, nil
}

func buildUsage(def featuredomain.FeatureDefinition, current, limit, warning, danger int64) domain.DimensionUsage {
	usage := domain.DimensionUsage{
		FeatureCode: def.Code,
		Name:        def.Name,
		Unit:        def.Unit,
		Current:     current,
		Limit:       limit,
	}
	if limit == featuredomain.UnlimitedLimit {
		usage.Unlimited = true
		usage.Status = domain.StatusSuccess
		return usage
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	usage.Remaining = &remaining

	switch {
	case limit == 0 && current > 0:
		usage.Percentage = 100
	case limit == 0:
		usage.Percentage = 0
	default:
		usage.Percentage = int64(math.Round(float64(current) / float64(limit) * 100))
		if usage.Percentage > 100 {
			usage.Percentage = 100
		}
	}
	usage.Status = domain.ClassifyStatus(usage.Percentage, warning, danger)
	return usage
}

// ResetPeriod zeroes every counter of the tenant whether or not the month
// was already rolled over. Repeating it leaves the same zeroed state.
func (s *Service) ResetPeriod(ctx context.Context, tenantID snowflake.ID) (bool, error) {
	if tenantID == 0 {
		return false, subscriptiondomain.ErrInvalidTenant
	}
	return s.resetPeriod(ctx, tenantID, domain.TriggerManual)
}

// resetPeriod runs the DB writes first and wipes the counters last, so a
// failed counter reset rolls the claim back and the reset is retried. The
// memory and Redis stores sit outside the transaction: if the commit itself
// fails after the wipe, the claim is retried and zeroes the counters again.
func (s *Service) resetPeriod(ctx context.Context, tenantID snowflake.ID, trigger string) (bool, error) {
	now := s.clock.Now()
	periodStart := clock.MonthStart(now)

	reset := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.FindByTenant(ctx, tx, tenantID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrNotFound
		}
		if trigger == domain.TriggerManual {
			if err := s.subRepo.MarkReset(ctx, tx, tenantID, now); err != nil {
				return err
			}
			reset = true
		} else {
			reset, err = s.subRepo.ClaimReset(ctx, tx, tenantID, periodStart, now)
			if err != nil || !reset {
				return err
			}
		}

		periodEnd := sub.CurrentPeriodEnd
		if !periodEnd.After(now) {
			for !periodEnd.After(now) {
				periodEnd = sub.BillingCycle.Advance(periodEnd)
			}
			if err := s.subRepo.UpdatePeriodEnd(ctx, tx, tenantID, periodEnd, now); err != nil {
				return err
			}
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				TenantID:   &tenantID,
				Action:     auditdomain.ActionUsageReset,
				TargetType: auditdomain.TargetTenant,
				TargetID:   tenantID.String(),
				Metadata: map[string]any{
					"trigger":      trigger,
					"period_start": periodStart.Format(time.RFC3339),
				},
			}); err != nil {
				return err
			}
		}
		return s.store.Reset(ctx, tx, tenantID)
	})
	if err != nil {
		return false, err
	}
	s.entitlements.Invalidate(tenantID)
	if reset {
		s.metrics.RecordPeriodReset(ctx, trigger)
		s.log.Info("usage period reset",
			zap.String("tenant_id", tenantID.String()),
			zap.String("trigger", trigger),
		)
	}
	return reset, nil
}

func (s *Service) ResetAllDuePeriods(ctx context.Context) (domain.ResetSummary, error) {
	periodStart := clock.MonthStart(s.clock.Now())

	var (
		mu      sync.Mutex
		summary domain.ResetSummary
		errs    []error
		after   snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		due, err := s.subRepo.ListDue(ctx, s.db, periodStart, after, defaultResetBatch)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(due) == 0 {
			break
		}
		after = due[len(due)-1].TenantID
		summary.Scanned += len(due)

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, sub := range due {
			tenantID := sub.TenantID
			g.Go(func() error {
				claimed, err := s.resetPeriod(ctx, tenantID, domain.TriggerScheduler)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					summary.Failed++
					errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
				case claimed:
					summary.Reset++
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < defaultResetBatch {
			break
		}
	}

	if summary.Scanned > 0 {
		s.log.Info("due usage periods processed",
			zap.Int("scanned", summary.Scanned),
			zap.Int("reset", summary.Reset),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, errors.Join(errs...)
}

func usageLockKey(tenantID snowflake.ID, dimension string) string {
	return "usage:" + tenantID.String() + ":" + dimension
}
