package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
)

// 状態変更1回分。呼び出し側のトランザクション内で、行ロック済みの注文に対して使う
type orderChange struct {
	actorID       int64
	status        model.OrderStatus
	paymentStatus model.PaymentStatus
	restock       bool
	at            time.Time
}

// applyOrderChange は注文の状態を書き換え、監査ログを残す。
// キャンセルに入るときだけ、restockなら在庫を戻して増減履歴も書く。
func applyOrderChange(ctx context.Context, r repo.TxRepos, o model.Order, c orderChange) (model.Order, error) {
	paymentChanged := c.paymentStatus != o.PaymentStatus
	statusChanged := c.status != o.Status
	if !paymentChanged && !statusChanged {
		return o, nil
	}

	if paymentChanged {
		if err := r.Orders().UpdatePaymentState(ctx, o.ID, c.paymentStatus, c.status, c.at); err != nil {
			return model.Order{}, err
		}
	} else {
		if err := r.Orders().UpdateStatus(ctx, o.ID, c.status, c.at); err != nil {
			return model.Order{}, err
		}
	}

	action := model.AuditActionUpdateOrderStatus
	if paymentChanged {
		action = model.AuditActionUpdatePaymentStatus
	}
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  c.actorID,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   o.ID,
		BeforeJSON:   stateJSON(o.Status, o.PaymentStatus),
		AfterJSON:    stateJSON(c.status, c.paymentStatus),
		CreatedAt:    c.at,
	}); err != nil {
		return model.Order{}, err
	}

	if c.restock && statusChanged && c.status == model.OrderStatusCancelled {
		if err := restockOrder(ctx, r, o.ID, c.actorID, c.at); err != nil {
			return model.Order{}, err
		}
	}

	updated := o
	updated.Status = c.status
	updated.PaymentStatus = c.paymentStatus
	updated.UpdatedAt = c.at
	return updated, nil
}

// 注文明細の数量を在庫に戻す。商品が削除済みの明細は飛ばす
func restockOrder(ctx context.Context, r repo.TxRepos, orderID int64, actorID int64, at time.Time) error {
	items, err := r.OrderItems().ListByOrderID(ctx, orderID)
	if err != nil {
		return err
	}

	lines := make([]repo.StockLine, 0, len(items))
	adjustments := make([]model.InventoryAdjustment, 0, len(items))
	for _, it := range items {
		if it.ProductID == nil {
			continue
		}
		lines = append(lines, repo.StockLine{ProductID: *it.ProductID, Quantity: it.Quantity})
		oid := orderID
		adjustments = append(adjustments, model.InventoryAdjustment{
			ProductID:   *it.ProductID,
			OrderID:     &oid,
			ActorUserID: actorID,
			Delta:       it.Quantity,
			Reason:      model.AdjustmentReasonRestock,
			CreatedAt:   at,
		})
	}
	if len(lines) == 0 {
		return nil
	}

	if err := r.Inventory().Release(ctx, lines); err != nil {
		return err
	}
	if err := r.Inventory().CreateAdjustments(ctx, adjustments); err != nil {
		return err
	}

	return r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorID,
		Action:       model.AuditActionRestock,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		AfterJSON:    mustJSON(lines),
		CreatedAt:    at,
	})
}

func stateJSON(status model.OrderStatus, payment model.PaymentStatus) string {
	return mustJSON(map[string]string{
		"status":         string(status),
		"payment_status": string(payment),
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
