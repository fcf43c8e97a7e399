package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
)

type planPricingRequest struct {
	Monthly  int64  `json:"monthly"`
	Currency string `json:"currency"`
}

type createPlanRequest struct {
	Code         string                    `json:"code"`
	Name         string                    `json:"name"`
	Description  *string                   `json:"description"`
	Pricing      planPricingRequest        `json:"pricing"`
	IsActive     *bool                     `json:"is_active"`
	DisplayOrder int                       `json:"display_order"`
	Features     []plandomain.FeatureValue `json:"features"`
	Metadata     map[string]any            `json:"metadata"`
}

type updatePlanRequest struct {
	Name         *string                    `json:"name,omitempty"`
	Description  *string                    `json:"description,omitempty"`
	Pricing      *planPricingRequest        `json:"pricing,omitempty"`
	IsActive     *bool                      `json:"is_active,omitempty"`
	DisplayOrder *int                       `json:"display_order,omitempty"`
	Features     *[]plandomain.FeatureValue `json:"features,omitempty"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
}

func (p planPricingRequest) toDomain() plandomain.Pricing {
	return plandomain.Pricing{
		Monthly:  p.Monthly,
		Currency: strings.ToUpper(strings.TrimSpace(p.Currency)),
	}
}

func (s *Server) ListPlans(c *gin.Context) {
	q := newQueryReader(c)
	activeOnly := q.Bool("active")
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.svc.ListPlans(c.Request.Context(), plandomain.ListRequest{
		ActiveOnly: activeOnly != nil && *activeOnly,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPlan(c *gin.Context) {
	resp, err := s.svc.GetPlan(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.svc.CreatePlan(c.Request.Context(), plandomain.CreateRequest{
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		Description:  trimOptionalString(req.Description),
		Pricing:      req.Pricing.toDomain(),
		IsActive:     req.IsActive,
		DisplayOrder: req.DisplayOrder,
		Features:     trimFeatureValues(req.Features),
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdatePlan(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := plandomain.UpdateRequest{
		Name:         trimOptionalString(req.Name),
		Description:  trimOptionalString(req.Description),
		IsActive:     req.IsActive,
		DisplayOrder: req.DisplayOrder,
		Metadata:     req.Metadata,
	}
	if req.Pricing != nil {
		pricing := req.Pricing.toDomain()
		update.Pricing = &pricing
	}
	if req.Features != nil {
		features := trimFeatureValues(*req.Features)
		update.Features = &features
	}

	resp, err := s.svc.UpdatePlan(c.Request.Context(), code, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func trimFeatureValues(values []plandomain.FeatureValue) []plandomain.FeatureValue {
	out := make([]plandomain.FeatureValue, 0, len(values))
	for _, value := range values {
		value.FeatureCode = strings.TrimSpace(value.FeatureCode)
		out = append(out, value)
	}
	return out
}
