package repository

import (
	"context"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

type PaymentAttemptRepository interface {
	Create(ctx context.Context, attempt model.PaymentAttempt) (int64, error)
	MarkCreated(ctx context.Context, attemptID int64, paymentID string, confirmationURL string) error
	MarkFailed(ctx context.Context, attemptID int64) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentAttempt, error)
}
