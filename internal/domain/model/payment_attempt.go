package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// initiateごとに1行。冪等キーはゲートウェイに渡したものをそのまま残す
type PaymentAttempt struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         int64           `gorm:"not null;index" json:"order_id"`
	IdempotencyKey  string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"idempotency_key"`
	PaymentID       *string         `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status          string          `gorm:"type:varchar(32);not null" json:"status"`
	ConfirmationURL string          `gorm:"type:text" json:"confirmation_url"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

const (
	PaymentAttemptStarted = "started"
	PaymentAttemptCreated = "created"
	PaymentAttemptFailed  = "failed"
)
