package repository

import (
	"context"
	"fmt"

	"github.com/vanyaWEB/botsshop/internal/domain/model"

	"gorm.io/gorm"
)

const orderItemBatchSize = 100

// 注文明細。作成後は書き換えない
type OrderItemGormRepository struct {
	db *gorm.DB
}

func NewOrderItemGormRepository(db *gorm.DB) *OrderItemGormRepository {
	return &OrderItemGormRepository{db: db}
}

// CreateBulk は明細のスナップショットをまとめて保存する。
// 名前や単価が欠けた明細が混ざっていれば1件も書かない。
func (r *OrderItemGormRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([]model.OrderItem, len(items))
	for i, it := range items {
		if it.ProductNameSnapshot == "" || it.Quantity <= 0 || it.UnitPriceSnapshot.IsNegative() {
			return fmt.Errorf("order item %d: incomplete snapshot", i)
		}
		it.OrderID = orderID
		rows[i] = it
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, orderItemBatchSize).Error
}

// 追加した順
func (r *OrderItemGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	items := []model.OrderItem{}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
