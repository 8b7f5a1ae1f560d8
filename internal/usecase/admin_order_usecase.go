package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
)

type AdminOrderUsecase struct {
	tx       repo.TransactionManager
	notifier Notifier
	clock    Clock
	log      *slog.Logger

	restockOnCancel bool
}

func NewAdminOrderUsecase(tx repo.TransactionManager, notifier Notifier, clock Clock, log *slog.Logger, restockOnCancel bool) *AdminOrderUsecase {
	return &AdminOrderUsecase{
		tx:              tx,
		notifier:        notifier,
		clock:           clock,
		log:             log,
		restockOnCancel: restockOnCancel,
	}
}

type AdminUpdateOrderStatusInput struct {
	Status string
}

type AdminOrderList struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (AdminOrderList, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return AdminOrderList{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return AdminOrderList{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return AdminOrderList{}, NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return AdminOrderList{}, NewHTTPError(http.StatusBadRequest, "invalid period")
	}

	out := AdminOrderList{Page: f.Page, Limit: f.Limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return err
		}

		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return AdminOrderList{}, err
	}
	return out, nil
}

// 注文番号で1件
func (u *AdminOrderUsecase) FindByNumber(ctx context.Context, number string) (OrderOutput, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByNumber(ctx, number)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// UpdateStatus は管理者によるステータス変更。
// 遷移表に無い変更はErrInvalidTransition、同じステータスなら何もしない。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	next, ok := model.ParseOrderStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	var (
		out     OrderOutput
		snap    model.OrderSnapshot
		changed bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if o.Status != next {
			if !o.Status.CanTransitionTo(next) {
				return ErrInvalidTransition
			}
			if o, err = applyOrderChange(ctx, r, o, orderChange{
				actorID:       actorAdminUserID,
				status:        next,
				paymentStatus: o.PaymentStatus,
				restock:       u.restockOnCancel,
				at:            u.clock.Now(),
			}); err != nil {
				return err
			}
			changed = true
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		snap = model.OrderSnapshot{Order: o, Items: items}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if changed {
		event := model.OrderEventStatusChanged
		if next == model.OrderStatusCancelled {
			event = model.OrderEventCancelled
		}
		u.notifier.NotifyBuyer(ctx, snap, event)
		u.log.InfoContext(ctx, "order status updated",
			"order_id", orderID, "status", string(next), "actor_user_id", actorAdminUserID)
	}
	return out, nil
}

// Stats は直近days日の集計。daysは1〜365
func (u *AdminOrderUsecase) Stats(ctx context.Context, days int) (repo.OrderStats, error) {
	if days < 1 || days > 365 {
		return repo.OrderStats{}, NewHTTPError(http.StatusBadRequest, "invalid days")
	}
	since := u.clock.Now().AddDate(0, 0, -days)

	var stats repo.OrderStats
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		stats, err = r.Orders().Stats(ctx, since, 5)
		return err
	})
	if err != nil {
		return repo.OrderStats{}, err
	}
	return stats, nil
}

// 注文の監査ログ（古い順）
func (u *AdminOrderUsecase) History(ctx context.Context, orderID int64) ([]model.AuditLog, error) {
	if orderID <= 0 {
		return []model.AuditLog{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	resource := model.AuditResourceOrder
	var logs []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		var err error
		logs, err = r.AuditLogs().List(ctx, repo.AuditLogFilter{
			ResourceType: &resource,
			ResourceID:   &orderID,
			Limit:        200,
		})
		return err
	})
	if err != nil {
		return []model.AuditLog{}, err
	}
	return logs, nil
}

// 注文の決済試行（作成順）。ゲートウェイ側の決済IDを追うとき用
func (u *AdminOrderUsecase) PaymentAttempts(ctx context.Context, orderID int64) ([]model.PaymentAttempt, error) {
	if orderID <= 0 {
		return []model.PaymentAttempt{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var attempts []model.PaymentAttempt
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		var err error
		attempts, err = r.PaymentAttempts().ListByOrderID(ctx, orderID)
		return err
	})
	if err != nil {
		return []model.PaymentAttempt{}, err
	}
	return attempts, nil
}

// 期間パラメータ（RFC3339）。空ならnil
func ParseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
