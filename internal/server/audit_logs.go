package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
)

// ListAuditLogs serves the admin audit trail. action accepts a group
// prefix such as "tenant." to match every tenant change.
func (s *Server) ListAuditLogs(c *gin.Context) {
	q := newQueryReader(c)
	req := auditdomain.ListAuditLogRequest{
		Pagination: q.Page(),
		TenantID:   q.SnowflakeID("tenant_id"),
		Action:     q.String("action"),
		TargetType: q.String("target_type", "resource_type"),
		TargetID:   q.String("target_id", "resource_id"),
		ActorType:  q.String("actor_type"),
		ActorID:    q.String("actor_id"),
		StartAt:    q.Time("start_at", false, "from"),
		EndAt:      q.Time("end_at", true, "to"),
	}
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.svc.ListAuditLogs(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
