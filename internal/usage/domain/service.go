package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CheckAndConsume(ctx context.Context, tenantID snowflake.ID, dimension string, amount int64) (*Decision, error)
	GetUsageReport(ctx context.Context, tenantID snowflake.ID) (*Report, error)
	// ResetPeriod reports whether this call performed the reset for the current month.
	ResetPeriod(ctx context.Context, tenantID snowflake.ID) (bool, error)
	ResetAllDuePeriods(ctx context.Context) (ResetSummary, error)
}

// MaxConsumeAmount bounds a single consumption. It stays within the range
// Redis scripts compare exactly.
const MaxConsumeAmount int64 = 1 << 53

const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerRollover  = "rollover"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrUnknownDimension = errors.New("unknown_dimension")
	ErrLimitExceeded    = errors.New("limit_exceeded")
	ErrBusy             = errors.New("busy")
)
