package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/entitlements/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	conds, args := listConditions(filter)

	query := `SELECT id, tenant_id, actor_type, actor_id, action, target_type, target_id,
		metadata, ip_address, user_agent, created_at
		FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var logs []*domain.AuditLog
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func listConditions(filter domain.ListFilter) ([]string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, values ...any) {
		conds = append(conds, cond)
		args = append(args, values...)
	}

	if filter.TenantID != nil {
		add("tenant_id = ?", *filter.TenantID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		if strings.HasSuffix(action, ".") {
			add("action LIKE ?", action+"%")
		} else {
			add("action = ?", action)
		}
	}
	if v := strings.TrimSpace(filter.TargetType); v != "" {
		add("target_type = ?", v)
	}
	if v := strings.TrimSpace(filter.TargetID); v != "" {
		add("target_id = ?", v)
	}
	if v := strings.TrimSpace(filter.ActorType); v != "" {
		add("actor_type = ?", v)
	}
	if v := strings.TrimSpace(filter.ActorID); v != "" {
		add("actor_id = ?", v)
	}
	if filter.StartAt != nil {
		add("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		add("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		add("(created_at < ? OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	return conds, args
}
