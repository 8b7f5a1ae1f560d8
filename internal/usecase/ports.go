package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// 決済の冪等キー用
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// 通知は投げっぱなし。失敗しても呼び出し元には返さない
type Notifier interface {
	NotifyBuyer(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent)
	NotifyAdmins(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent)
}

type PaymentGateway interface {
	CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (model.GatewayPayment, error)
	GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error)
	CancelPayment(ctx context.Context, paymentID string, idempotencyKey string) (model.GatewayPayment, error)
}

// カート表示のキャッシュ。見つからなければfalse。
// Getが返す世代をSetに渡す。Deleteの後は古い世代への書き込みは読まれない
type CartCache interface {
	Get(ctx context.Context, userID int64) (model.CartView, int64, bool, error)
	Set(ctx context.Context, userID int64, gen int64, view model.CartView) error
	Delete(ctx context.Context, userID int64) error
}
