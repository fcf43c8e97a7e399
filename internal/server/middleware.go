package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/actorcontext"
	"github.com/smallbiznis/entitlements/internal/tenantcontext"
)

// Identity headers are set by the gateway in front of this service after it
// has authenticated the caller. They are trusted as-is, so the service must
// not be reachable without the gateway. A gateway that knows the caller's
// tenant sends X-Actor-Tenant-Id and tenant routes then refuse other tenants.
const (
	HeaderActorType   = "X-Actor-Type"
	HeaderActorID     = "X-Actor-Id"
	HeaderActorRole   = "X-Actor-Role"
	HeaderActorTenant = "X-Actor-Tenant-Id"

	contextTenantIDKey      = "tenant_id"
	contextActorTenantIDKey = "actor_tenant_id"
)

// ActorContext copies the caller identity from the gateway headers into the request context.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetHeader(HeaderActorRole))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if raw := strings.TrimSpace(c.GetHeader(HeaderActorTenant)); raw != "" {
			scope, err := snowflake.ParseString(raw)
			if err != nil || scope <= 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Set(contextActorTenantIDKey, scope)
		}
		actorType := strings.TrimSpace(c.GetHeader(HeaderActorType))
		if actorType == "" {
			actorType = actorcontext.ActorTypeUser
		}

		ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.Actor{
			Type: actorType,
			ID:   c.GetHeader(HeaderActorID),
			Role: role,
		})
		ctx = actorcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantContext parses the :tenantId path parameter.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("tenantId")))
		if err != nil || tenantID <= 0 {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "invalid tenant id"))
			return
		}
		if scope, ok := c.Get(contextActorTenantIDKey); ok && scope.(snowflake.ID) != tenantID {
			AbortWithError(c, ErrTenantScope)
			return
		}

		c.Set(contextTenantIDKey, tenantID)
		c.Request = c.Request.WithContext(tenantcontext.WithTenantID(c.Request.Context(), tenantID))
		c.Next()
	}
}

func tenantIDFromContext(c *gin.Context) snowflake.ID {
	if value, ok := c.Get(contextTenantIDKey); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}
