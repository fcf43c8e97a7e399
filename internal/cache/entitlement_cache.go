package cache

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
)

// EntitlementCache stores per-tenant resolutions for the consume hot path.
//
// Readers take Generation before loading from storage and pass it to Set.
// An Invalidate in between bumps the generation and the stale Set is dropped.
type EntitlementCache interface {
	Get(tenantID snowflake.ID) (*entitlementdomain.Entitlements, bool)
	Generation(tenantID snowflake.ID) uint64
	Set(tenantID snowflake.ID, generation uint64, ents *entitlementdomain.Entitlements, ttl time.Duration) bool
	Invalidate(tenantID snowflake.ID)
}

type entitlementCache struct {
	mu    sync.Mutex
	gens  map[snowflake.ID]uint64
	items Cache[snowflake.ID, *entitlementdomain.Entitlements]
}

func NewEntitlementCache(now func() time.Time) EntitlementCache {
	return &entitlementCache{
		gens:  make(map[snowflake.ID]uint64),
		items: NewTTLCacheWithClock[snowflake.ID, *entitlementdomain.Entitlements](now),
	}
}

func (c *entitlementCache) Generation(tenantID snowflake.ID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[tenantID]
}

func (c *entitlementCache) Get(tenantID snowflake.ID) (*entitlementdomain.Entitlements, bool) {
	return c.items.Get(tenantID)
}

// Set never keeps an entry past the first override expiry it contains.
func (c *entitlementCache) Set(tenantID snowflake.ID, generation uint64, ents *entitlementdomain.Entitlements, ttl time.Duration) bool {
	if ents == nil || ttl <= 0 {
		return false
	}
	if next, ok := ents.NextExpiry(); ok {
		until := next.Sub(ents.ResolvedAt)
		if until <= 0 {
			return false
		}
		if until < ttl {
			ttl = until
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[tenantID] != generation {
		return false
	}
	c.items.Set(tenantID, ents, ttl)
	return true
}

func (c *entitlementCache) Invalidate(tenantID snowflake.ID) {
	c.mu.Lock()
	c.gens[tenantID]++
	c.items.Delete(tenantID)
	c.mu.Unlock()
}
