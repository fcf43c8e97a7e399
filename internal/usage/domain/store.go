package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CounterStore keeps the per-dimension counters. Implementations must make
// IncrementWithCeiling atomic for a (tenant, dimension) key.
type CounterStore interface {
	// IncrementWithCeiling adds amount unless the result would exceed limit. A negative
	// limit is unlimited. It returns the counter after the call and whether it changed.
	IncrementWithCeiling(ctx context.Context, tenantID snowflake.ID, dimension string, amount, limit int64) (int64, bool, error)
	Counters(ctx context.Context, tenantID snowflake.ID) (map[string]int64, error)
	// Reset zeroes every counter of the tenant. SQL stores run on tx.
	Reset(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
}
