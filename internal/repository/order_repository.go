package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type TopProduct struct {
	ProductID *int64 `json:"product_id"`
	Name      string `json:"name"`
	Sold      int64  `json:"sold"`
}

type OrderStats struct {
	TotalOrders   int64           `json:"total_orders"`
	PeriodOrders  int64           `json:"period_orders"`
	PendingOrders int64           `json:"pending_orders"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	PeriodRevenue decimal.Decimal `json:"period_revenue"`
	TopProducts   []TopProduct    `json:"top_products"`
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	// 遷移の前に行ロック
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByNumber(ctx context.Context, number string) (model.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error
	UpdatePaymentState(ctx context.Context, orderID int64, paymentStatus model.PaymentStatus, status model.OrderStatus, at time.Time) error
	SetPaymentID(ctx context.Context, orderID int64, paymentID string, at time.Time) error

	// ORD-YYYYMMDD-000123（シーケンス採番、再利用しない）
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
	//管理者用の集計
	Stats(ctx context.Context, since time.Time, topLimit int) (OrderStats, error)
}
