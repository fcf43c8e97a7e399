package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/entitlements/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	SweepBatchSize int
	// EnabledJobs limits the run to the named jobs. Empty enables all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Hour,
		JobTimeout:     5 * time.Minute,
		SweepBatchSize: 500,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	var jobs []string
	for _, job := range strings.Split(cfg.Scheduler.Jobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			jobs = append(jobs, job)
		}
	}
	return Config{
		RunInterval:    cfg.Scheduler.Interval,
		JobTimeout:     cfg.Scheduler.JobTimeout,
		SweepBatchSize: cfg.Scheduler.SweepBatchSize,
		EnabledJobs:    jobs,
	}.withDefaults()
}
