package store

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/testutil/testdb"
	"github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type storeCase struct {
	name  string
	store domain.CounterStore
	db    *gorm.DB
}

func stores(t *testing.T) []storeCase {
	t.Helper()

	db := testdb.Open(t)
	cases := []storeCase{
		{name: "memory", store: NewMemoryStore()},
		{name: "sql", store: NewSQLStore(db, clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))), db: db},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		cases = append(cases, storeCase{name: "redis", store: NewRedisStore(client)})
	}
	return cases
}

func TestIncrementWithCeiling(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := snowflake.ID(time.Now().UnixNano())

			current, applied, err := tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 3, 5)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, int64(3), current)

			current, applied, err = tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 3, 5)
			require.NoError(t, err)
			assert.False(t, applied)
			assert.Equal(t, int64(3), current)

			current, applied, err = tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 2, 5)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, int64(5), current)

			current, applied, err = tc.store.IncrementWithCeiling(ctx, tenantID, "api_calls", 1, 0)
			require.NoError(t, err)
			assert.False(t, applied)
			assert.Zero(t, current)

			current, applied, err = tc.store.IncrementWithCeiling(ctx, tenantID, "exports", 1000, -1)
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, int64(1000), current)
		})
	}
}

func TestIncrementNearInt64MaxIsDenied(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := snowflake.ID(time.Now().UnixNano())

			_, applied, err := tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 1, 5)
			require.NoError(t, err)
			require.True(t, applied)

			current, applied, err := tc.store.IncrementWithCeiling(ctx, tenantID, "responses", math.MaxInt64, 5)
			require.NoError(t, err)
			assert.False(t, applied)
			assert.Equal(t, int64(1), current)

			counters, err := tc.store.Counters(ctx, tenantID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), counters["responses"])
		})
	}
}

func TestMemoryStoreUnlimitedDoesNotWrap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantID := snowflake.ID(7)

	_, applied, err := store.IncrementWithCeiling(ctx, tenantID, "exports", math.MaxInt64-1, -1)
	require.NoError(t, err)
	require.True(t, applied)

	current, applied, err := store.IncrementWithCeiling(ctx, tenantID, "exports", 2, -1)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(math.MaxInt64-1), current)
}

func TestCountersAndReset(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := snowflake.ID(time.Now().UnixNano())
			other := tenantID + 1

			_, _, err := tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 4, -1)
			require.NoError(t, err)
			_, _, err = tc.store.IncrementWithCeiling(ctx, tenantID, "api_calls", 2, -1)
			require.NoError(t, err)
			_, _, err = tc.store.IncrementWithCeiling(ctx, other, "responses", 9, -1)
			require.NoError(t, err)

			counters, err := tc.store.Counters(ctx, tenantID)
			require.NoError(t, err)
			assert.Equal(t, map[string]int64{"responses": 4, "api_calls": 2}, counters)

			require.NoError(t, tc.store.Reset(ctx, tc.db, tenantID))

			counters, err = tc.store.Counters(ctx, tenantID)
			require.NoError(t, err)
			assert.Zero(t, counters["responses"])
			assert.Zero(t, counters["api_calls"])

			counters, err = tc.store.Counters(ctx, other)
			require.NoError(t, err)
			assert.Equal(t, int64(9), counters["responses"])
		})
	}
}

func TestConcurrentIncrementsRespectCeiling(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			tenantID := snowflake.ID(time.Now().UnixNano())

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
			)
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := tc.store.IncrementWithCeiling(ctx, tenantID, "responses", 1, 10)
					if !assert.NoError(t, err) {
						return
					}
					if ok {
						mu.Lock()
						applied++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 10, applied)
			counters, err := tc.store.Counters(ctx, tenantID)
			require.NoError(t, err)
			assert.Equal(t, int64(10), counters["responses"])
		})
	}
}
