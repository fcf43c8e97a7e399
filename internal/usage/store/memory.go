package store

import (
	"context"
	"math"
	"sync"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// MemoryStore is a single-process store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[snowflake.ID]map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[snowflake.ID]map[string]int64)}
}

func (s *MemoryStore) IncrementWithCeiling(_ context.Context, tenantID snowflake.ID, dimension string, amount, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.counters[tenantID]
	if dims == nil {
		dims = make(map[string]int64)
		s.counters[tenantID] = dims
	}
	current := dims[dimension]
	if limit >= 0 && amount > limit-current {
		return current, false, nil
	}
	if amount > math.MaxInt64-current {
		return current, false, nil
	}
	dims[dimension] = current + amount
	return dims[dimension], true, nil
}

func (s *MemoryStore) Counters(_ context.Context, tenantID snowflake.ID) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.counters[tenantID]))
	for dim, count := range s.counters[tenantID] {
		out[dim] = count
	}
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context, _ *gorm.DB, tenantID snowflake.ID) error {
	s.mu.Lock()
	delete(s.counters, tenantID)
	s.mu.Unlock()
	return nil
}
