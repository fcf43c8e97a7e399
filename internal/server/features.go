package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
)

type createFeatureRequest struct {
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Description  *string             `json:"description"`
	Category     string              `json:"category"`
	Type         string              `json:"type"`
	DefaultValue featuredomain.Value `json:"default_value"`
	Unit         *string             `json:"unit"`
	Dimension    *string             `json:"dimension"`
	IsPublic     bool                `json:"is_public"`
	IsActive     *bool               `json:"is_active"`
	DisplayOrder int                 `json:"display_order"`
	Metadata     map[string]any      `json:"metadata"`
}

type updateFeatureRequest struct {
	Code         *string              `json:"code,omitempty"`
	Type         *string              `json:"type,omitempty"`
	Name         *string              `json:"name,omitempty"`
	Description  *string              `json:"description,omitempty"`
	Category     *string              `json:"category,omitempty"`
	DefaultValue *featuredomain.Value `json:"default_value,omitempty"`
	Unit         *string              `json:"unit,omitempty"`
	Dimension    *string              `json:"dimension,omitempty"`
	IsPublic     *bool                `json:"is_public,omitempty"`
	IsActive     *bool                `json:"is_active,omitempty"`
	DisplayOrder *int                 `json:"display_order,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
}

func (s *Server) ListFeatures(c *gin.Context) {
	q := newQueryReader(c)
	req := featuredomain.ListRequest{
		Category: q.Category("category"),
		IsActive: q.Bool("active"),
	}
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.svc.ListFeatures(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeature(c *gin.Context) {
	resp, err := s.svc.GetFeature(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.svc.CreateFeature(c.Request.Context(), featuredomain.CreateRequest{
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		Description:  trimOptionalString(req.Description),
		Category:     featuredomain.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Type:         featuredomain.FeatureType(strings.ToLower(strings.TrimSpace(req.Type))),
		DefaultValue: req.DefaultValue,
		Unit:         trimOptionalString(req.Unit),
		Dimension:    trimOptionalString(req.Dimension),
		IsPublic:     req.IsPublic,
		IsActive:     req.IsActive,
		DisplayOrder: req.DisplayOrder,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	var req updateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := featuredomain.UpdateRequest{
		Code:         trimOptionalString(req.Code),
		Name:         trimOptionalString(req.Name),
		Description:  trimOptionalString(req.Description),
		DefaultValue: req.DefaultValue,
		Unit:         trimOptionalString(req.Unit),
		Dimension:    trimOptionalString(req.Dimension),
		IsPublic:     req.IsPublic,
		IsActive:     req.IsActive,
		DisplayOrder: req.DisplayOrder,
		Metadata:     req.Metadata,
	}
	if req.Type != nil {
		featureType := featuredomain.FeatureType(strings.ToLower(strings.TrimSpace(*req.Type)))
		update.Type = &featureType
	}
	if req.Category != nil {
		category := featuredomain.Category(strings.ToLower(strings.TrimSpace(*req.Category)))
		update.Category = &category
	}

	resp, err := s.svc.UpdateFeature(c.Request.Context(), code, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateFeature(c *gin.Context) {
	resp, err := s.svc.DeactivateFeature(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func trimOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
