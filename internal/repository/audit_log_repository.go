package repository

import (
	"context"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

// 注文履歴の取得条件。nilの項目は絞り込まない
type AuditLogFilter struct {
	ResourceType *model.AuditResourceType
	ResourceID   *int64
	Limit        int
}

// 監査ログは追記のみ
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
