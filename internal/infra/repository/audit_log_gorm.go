package repository

import (
	"context"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"gorm.io/gorm"
)

const maxAuditLogs = 200

type AuditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) *AuditLogGormRepository {
	return &AuditLogGormRepository{db: db}
}

// 遷移と同じトランザクションで書く
func (r *AuditLogGormRepository) Create(ctx context.Context, log model.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(&log).Error
}

// 古い順。同じ時刻ならidで並べる
func (r *AuditLogGormRepository) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&model.AuditLog{})
	if filter.ResourceType != nil {
		q = q.Where("resource_type = ?", *filter.ResourceType)
	}
	if filter.ResourceID != nil {
		q = q.Where("resource_id = ?", *filter.ResourceID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxAuditLogs {
		limit = maxAuditLogs
	}

	logs := []model.AuditLog{}
	if err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
