package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64           `gorm:"not null;index" json:"user_id"`
	OrderNumber string          `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`

	Status        OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentID     *string       `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(20);not null;index" json:"payment_status"`

	//配送情報
	Phone   string `gorm:"type:varchar(32);not null" json:"phone"`
	Address string `gorm:"type:text;not null" json:"address"`
	Comment string `gorm:"type:text" json:"comment"`

	//二重送信防止
	IdempotencyKey *string `gorm:"type:varchar(255)" json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// 購入者がキャンセルできるのはpendingかつ未決済のときだけ
func (o Order) CancellableByBuyer() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus != PaymentStatusSucceeded
}

// 決済を始められるか
func (o Order) Payable() bool {
	return !o.Status.IsTerminal() && o.PaymentStatus == PaymentStatusPending
}
