package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
)

type provisionTenantRequest struct {
	TenantID     snowflake.ID `json:"tenant_id"`
	PlanCode     string       `json:"plan_code"`
	BillingCycle string       `json:"billing_cycle"`
	Status       string       `json:"billing_status"`
}

type updateTenantStatusRequest struct {
	Status string `json:"billing_status"`
}

type applyPlanRequest struct {
	PlanCode string `json:"plan_code"`
}

type setCustomFeatureRequest struct {
	Value     *featuredomain.Value `json:"value"`
	ExpiresAt *time.Time           `json:"expires_at"`
}

func (s *Server) ListTenants(c *gin.Context) {
	q := newQueryReader(c)
	req := subscriptiondomain.ListRequest{
		Pagination: q.Page(),
		Status:     strings.ToLower(q.String("status")),
		PlanCode:   q.String("plan_code"),
	}
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.svc.ListTenants(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Subscriptions, "page_info": resp.PageInfo})
}

func (s *Server) ProvisionTenant(c *gin.Context) {
	var req provisionTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.svc.ProvisionTenant(c.Request.Context(), entitlementdomain.ProvisionRequest{
		TenantID:     req.TenantID,
		PlanCode:     strings.TrimSpace(req.PlanCode),
		BillingCycle: subscriptiondomain.BillingCycle(strings.ToLower(strings.TrimSpace(req.BillingCycle))),
		Status:       subscriptiondomain.BillingStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetTenant(c *gin.Context) {
	resp, err := s.svc.GetTenant(c.Request.Context(), tenantIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateTenantStatus(c *gin.Context) {
	var req updateTenantStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := subscriptiondomain.BillingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	resp, err := s.svc.UpdateTenantStatus(c.Request.Context(), tenantIDFromContext(c), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelTenant(c *gin.Context) {
	resp, err := s.svc.CancelTenant(c.Request.Context(), tenantIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApplyPlan(c *gin.Context) {
	var req applyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.svc.ApplyPlan(c.Request.Context(), tenantIDFromContext(c), strings.TrimSpace(req.PlanCode))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveEntitlements(c *gin.Context) {
	resp, err := s.svc.Resolve(c.Request.Context(), tenantIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetCustomFeature(c *gin.Context) {
	var req setCustomFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Value == nil || !req.Value.IsSet() {
		AbortWithError(c, newValidationError("value", "invalid_value", "value is required"))
		return
	}

	resp, err := s.svc.SetCustomFeature(c.Request.Context(), entitlementdomain.SetCustomFeatureRequest{
		TenantID:    tenantIDFromContext(c),
		FeatureCode: strings.TrimSpace(c.Param("featureCode")),
		Value:       *req.Value,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ClearCustomFeature(c *gin.Context) {
	resp, err := s.svc.ClearCustomFeature(c.Request.Context(), tenantIDFromContext(c), strings.TrimSpace(c.Param("featureCode")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SweepExpiredOverrides(c *gin.Context) {
	q := newQueryReader(c)
	size := q.PositiveInt("batch_size", 500)
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	swept, err := s.svc.SweepExpiredOverrides(c.Request.Context(), size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"swept": swept}})
}
