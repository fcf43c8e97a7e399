package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Engine is the part of the entitlement service the scheduler drives.
type Engine interface {
	ResetAllDuePeriods(ctx context.Context) (usagedomain.ResetSummary, error)
	SweepExpiredOverrides(ctx context.Context, batchSize int) (int, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Service *entitlementsvc.Service
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config                       `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	engine  Engine
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Service == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p.Log, p.Service, p.GenID, p.Clock, p.Config, p.Metrics), nil
}

func newScheduler(log *zap.Logger, engine Engine, genID *snowflake.Node, clk clock.Clock, cfg Config, metrics *obsmetrics.SchedulerMetrics) *Scheduler {
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:     log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     cfg.withDefaults(),
		genID:   genID,
		clock:   clk,
		engine:  engine,
		metrics: metrics,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = actorcontext.WithSystemActor(ctx, "scheduler")
	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	elapsed := s.clock.Now().Sub(run.startedAt)
	s.metrics.ObserveJobDuration(name, elapsed)
	if err != nil && run.errors == 0 {
		run.incError()
	}
	s.logJobFinish(ctx, run, elapsed)
	if err == nil {
		return nil
	}

	// Deadlines are soft: the remaining work is picked up on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Job failures are joined, never short-circuit.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{obsmetrics.JobResetDuePeriods, func(ctx context.Context) error {
			return s.runJob(ctx, obsmetrics.JobResetDuePeriods, 0, s.cfg.JobTimeout, s.ResetDuePeriodsJob)
		}},
		{obsmetrics.JobSweepExpiredOverrides, func(ctx context.Context) error {
			return s.runJob(ctx, obsmetrics.JobSweepExpiredOverrides, s.cfg.SweepBatchSize, s.cfg.JobTimeout, s.SweepExpiredOverridesJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

// RunForever runs the jobs immediately and then on every RunInterval
// boundary counted from UTC midnight, so a 24h interval fires at 00:00 UTC
// when the new calendar month begins.
func (s *Scheduler) RunForever(ctx context.Context) {
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		now := s.clock.Now()
		next := nextAlignedRun(now, s.cfg.RunInterval)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if lag := s.clock.Now().Sub(next); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
	}
}

// nextAlignedRun returns the first instant after now that sits on an
// interval boundary measured from the start of now's UTC day.
func nextAlignedRun(now time.Time, interval time.Duration) time.Time {
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := now.Sub(midnight)
	return midnight.Add((elapsed/interval + 1) * interval)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ResetDuePeriodsJob zeroes the counters of every tenant whose month has rolled over.
func (s *Scheduler) ResetDuePeriodsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	summary, err := s.engine.ResetAllDuePeriods(ctx)
	run.recordResets(summary)
	s.metrics.AddBatchProcessed(obsmetrics.JobResetDuePeriods, obsmetrics.ResourceTenantSubscription, summary.Reset)
	if summary.Failed > 0 {
		s.logJobError(ctx, obsmetrics.JobResetDuePeriods, "usage period reset incomplete", err,
			zap.Int("scanned", summary.Scanned),
			zap.Int("failed", summary.Failed),
		)
	}
	return err
}

// SweepExpiredOverridesJob clears expired custom values so the table does not grow unbounded.
func (s *Scheduler) SweepExpiredOverridesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	swept, err := s.engine.SweepExpiredOverrides(ctx, s.cfg.SweepBatchSize)
	run.recordSwept(swept)
	s.metrics.AddBatchProcessed(obsmetrics.JobSweepExpiredOverrides, obsmetrics.ResourceTenantFeature, swept)
	return err
}
