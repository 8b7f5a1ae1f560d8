package repository

import (
	"context"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"gorm.io/gorm"
)

type PaymentAttemptGormRepository struct {
	db *gorm.DB
}

func NewPaymentAttemptGormRepository(db *gorm.DB) *PaymentAttemptGormRepository {
	return &PaymentAttemptGormRepository{db: db}
}

func (r *PaymentAttemptGormRepository) Create(ctx context.Context, attempt model.PaymentAttempt) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, repo.ErrDuplicate
		}
		return 0, err
	}
	return attempt.ID, nil
}

func (r *PaymentAttemptGormRepository) MarkCreated(ctx context.Context, attemptID int64, paymentID string, confirmationURL string) error {
	return r.update(ctx, attemptID, map[string]interface{}{
		"payment_id":       paymentID,
		"confirmation_url": confirmationURL,
		"status":           model.PaymentAttemptCreated,
		"updated_at":       time.Now(),
	})
}

func (r *PaymentAttemptGormRepository) MarkFailed(ctx context.Context, attemptID int64) error {
	return r.update(ctx, attemptID, map[string]interface{}{
		"status":     model.PaymentAttemptFailed,
		"updated_at": time.Now(),
	})
}

func (r *PaymentAttemptGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentAttempt, error) {
	var out []model.PaymentAttempt
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&out).Error; err != nil {
		return []model.PaymentAttempt{}, err
	}
	return out, nil
}

func (r *PaymentAttemptGormRepository) update(ctx context.Context, attemptID int64, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where("id = ?", attemptID).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
