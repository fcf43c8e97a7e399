package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/entitlements/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitlements/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"go.uber.org/zap"
)

// jobRun collects what one job execution touched so the finish line can
// report it.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	resets usagedomain.ResetSummary
	swept  int
	errors int
}

type jobRunKey struct{}

func (r *jobRun) recordResets(summary usagedomain.ResetSummary) {
	if r == nil {
		return
	}
	r.resets.Scanned += summary.Scanned
	r.resets.Reset += summary.Reset
	r.resets.Failed += summary.Failed
	r.errors += summary.Failed
}

func (r *jobRun) recordSwept(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.swept += count
}

func (r *jobRun) incError() {
	if r != nil {
		r.errors++
	}
}

func (s *Scheduler) startJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int("error_count", run.errors),
	}
	switch run.job {
	case obsmetrics.JobResetDuePeriods:
		fields = append(fields,
			zap.Int("tenants_scanned", run.resets.Scanned),
			zap.Int("tenants_reset", run.resets.Reset),
			zap.Int("tenants_failed", run.resets.Failed),
		)
	case obsmetrics.JobSweepExpiredOverrides:
		fields = append(fields, zap.Int("overrides_swept", run.swept))
	}

	log := s.logger(ctx)
	if run.errors > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobError(ctx context.Context, job, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	base := []zap.Field{
		zap.String("job", job),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(base, fields...)...)
}
