package cache

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
)

func TestEntitlementCacheDropsSetAfterInvalidate(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := NewEntitlementCache(func() time.Time { return now })
	tenantID := snowflake.ID(42)

	gen := c.Generation(tenantID)
	stale := &entitlementdomain.Entitlements{TenantID: tenantID, PlanCode: "free", ResolvedAt: now}

	// A write commits while the read is still in flight.
	c.Invalidate(tenantID)

	if c.Set(tenantID, gen, stale, time.Minute) {
		t.Fatalf("expected set with an old generation to be dropped")
	}
	if _, ok := c.Get(tenantID); ok {
		t.Fatalf("expected no cached entry after a dropped set")
	}

	fresh := &entitlementdomain.Entitlements{TenantID: tenantID, PlanCode: "pro", ResolvedAt: now}
	if !c.Set(tenantID, c.Generation(tenantID), fresh, time.Minute) {
		t.Fatalf("expected set with the current generation to be kept")
	}
	got, ok := c.Get(tenantID)
	if !ok || got.PlanCode != "pro" {
		t.Fatalf("expected fresh entry, got %v %v", got, ok)
	}
}

func TestEntitlementCacheGenerationsArePerTenant(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := NewEntitlementCache(func() time.Time { return now })

	gen := c.Generation(1)
	c.Invalidate(2)

	if !c.Set(1, gen, &entitlementdomain.Entitlements{TenantID: 1, ResolvedAt: now}, time.Minute) {
		t.Fatalf("expected invalidating another tenant to leave this tenant's generation alone")
	}
}
