package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/observability/logger"
)

type consumeRequest struct {
	Amount *int64 `json:"amount"`
}

// CheckAndConsume answers 200 for both outcomes; callers branch on "allowed".
func (s *Server) CheckAndConsume(c *gin.Context) {
	dimension := strings.TrimSpace(c.Param("dimension"))
	c.Set(logger.KeyDimension, dimension)

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	c.Set(logger.KeyConsumeAmount, amount)
	if !s.allowConsumeRate(c, dimension, amount) {
		return
	}

	decision, err := s.svc.CheckAndConsume(c.Request.Context(), tenantIDFromContext(c), dimension, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(logger.KeyConsumeAllowed, decision.Allowed)

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) GetUsageReport(c *gin.Context) {
	resp, err := s.svc.GetUsageReport(c.Request.Context(), tenantIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResetPeriod(c *gin.Context) {
	reset, err := s.svc.ResetPeriod(c.Request.Context(), tenantIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reset": reset}})
}

func (s *Server) ResetAllDuePeriods(c *gin.Context) {
	summary, err := s.svc.ResetAllDuePeriods(c.Request.Context())
	if err != nil && summary.Failed == 0 {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if summary.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"data": summary})
}
