package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const orderNumberSequence = "order_number_seq"

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", orderID))
}

func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID))
}

func (r *OrderGormRepository) FindByNumber(ctx context.Context, number string) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("order_number = ?", number))
}

func (r *OrderGormRepository) FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("payment_id = ?", paymentID))
}

func (r *OrderGormRepository) first(q *gorm.DB) (model.Order, error) {
	var o model.Order
	err := q.First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, repo.ErrDuplicate
		}
		return 0, err
	}
	return order.ID, nil
}

func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error {
	return r.updates(ctx, orderID, map[string]interface{}{
		"status":     status,
		"updated_at": at,
	})
}

func (r *OrderGormRepository) UpdatePaymentState(ctx context.Context, orderID int64, paymentStatus model.PaymentStatus, status model.OrderStatus, at time.Time) error {
	return r.updates(ctx, orderID, map[string]interface{}{
		"payment_status": paymentStatus,
		"status":         status,
		"updated_at":     at,
	})
}

func (r *OrderGormRepository) SetPaymentID(ctx context.Context, orderID int64, paymentID string, at time.Time) error {
	return r.updates(ctx, orderID, map[string]interface{}{
		"payment_id": paymentID,
		"updated_at": at,
	})
}

func (r *OrderGormRepository) updates(ctx context.Context, orderID int64, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(values)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 件数からの採番は同時注文で衝突するのでシーケンスを使う
func (r *OrderGormRepository) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	var seq int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT nextval(?::regclass)", orderNumberSequence).
		Scan(&seq).Error; err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return FormatOrderNumber(now, seq), nil
}

func FormatOrderNumber(now time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", now.UTC().Format("20060102"), seq)
}

func (r *OrderGormRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&o).Error

	if isNotFound(err) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	//status 絞り込み
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	//user_id 絞り込み
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Stats(ctx context.Context, since time.Time, topLimit int) (repo.OrderStats, error) {
	var st repo.OrderStats

	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Count(&st.TotalOrders).Error; err != nil {
		return repo.OrderStats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("created_at >= ?", since).
		Count(&st.PeriodOrders).Error; err != nil {
		return repo.OrderStats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ?", model.OrderStatusPending).
		Count(&st.PendingOrders).Error; err != nil {
		return repo.OrderStats{}, err
	}

	//売上は決済成功分だけ
	total, err := r.sumRevenue(ctx, nil)
	if err != nil {
		return repo.OrderStats{}, err
	}
	period, err := r.sumRevenue(ctx, &since)
	if err != nil {
		return repo.OrderStats{}, err
	}
	st.TotalRevenue = total
	st.PeriodRevenue = period

	if topLimit <= 0 {
		topLimit = 5
	}
	st.TopProducts = []repo.TopProduct{}
	if err := r.db.WithContext(ctx).
		Table("order_items AS oi").
		Select("oi.product_id AS product_id, MAX(oi.product_name_snapshot) AS name, SUM(oi.quantity) AS sold").
		Joins("JOIN orders AS o ON o.id = oi.order_id").
		Where("o.status = ?", model.OrderStatusCompleted).
		Group("oi.product_id").
		Order("sold DESC").
		Limit(topLimit).
		Scan(&st.TopProducts).Error; err != nil {
		return repo.OrderStats{}, err
	}

	return st, nil
}

func (r *OrderGormRepository) sumRevenue(ctx context.Context, since *time.Time) (decimal.Decimal, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("payment_status = ?", model.PaymentStatusSucceeded)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}

	var sum decimal.Decimal
	if err := q.Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
