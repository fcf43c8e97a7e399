package store

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps counters in usage_counters and enforces the ceiling in a conditional UPDATE.
type SQLStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewSQLStore(db *gorm.DB, clk clock.Clock) *SQLStore {
	return &SQLStore{db: db, clock: clk}
}

func (s *SQLStore) IncrementWithCeiling(ctx context.Context, tenantID snowflake.ID, dimension string, amount, limit int64) (int64, bool, error) {
	var (
		current int64
		applied bool
	)
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := domain.Counter{TenantID: tenantID, Dimension: dimension, Count: 0, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}

		res := tx.Exec(
			`UPDATE usage_counters
			 SET count = count + ?, updated_at = ?
			 WHERE tenant_id = ? AND dimension = ? AND (? < 0 OR ? <= ? - count)`,
			amount,
			now,
			tenantID,
			dimension,
			limit,
			amount,
			limit,
		)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1

		return tx.Raw(
			`SELECT count FROM usage_counters WHERE tenant_id = ? AND dimension = ?`,
			tenantID,
			dimension,
		).Scan(&current).Error
	})
	if err != nil {
		return 0, false, err
	}
	return current, applied, nil
}

func (s *SQLStore) Counters(ctx context.Context, tenantID snowflake.ID) (map[string]int64, error) {
	var rows []domain.Counter
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Dimension] = row.Count
	}
	return out, nil
}

func (s *SQLStore) Reset(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE usage_counters SET count = 0, updated_at = ? WHERE tenant_id = ?`,
		s.clock.Now(),
		tenantID,
	).Error
}
