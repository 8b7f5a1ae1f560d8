package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
	"github.com/vanyaWEB/botsshop/internal/metrics"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
)

type PaymentConfig struct {
	Currency        string
	ReturnURL       string
	Timeout         time.Duration
	RestockOnCancel bool
}

// PaymentUsecase は決済の開始と状態の取り込み。
// ゲートウェイへの呼び出しはトランザクションの外で行う。
type PaymentUsecase struct {
	tx       repo.TransactionManager
	gateway  PaymentGateway
	notifier Notifier
	clock    Clock
	ids      IDGenerator
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      PaymentConfig
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	gateway PaymentGateway,
	notifier Notifier,
	clock Clock,
	ids IDGenerator,
	m *metrics.Metrics,
	log *slog.Logger,
	cfg PaymentConfig,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:       tx,
		gateway:  gateway,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

type PaymentHandle struct {
	OrderID         int64           `json:"order_id"`
	PaymentID       string          `json:"payment_id"`
	ConfirmationURL string          `json:"confirmation_url"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// 照合の結果
const (
	PaymentOutcomeSucceeded = "succeeded"
	PaymentOutcomeCanceled  = "canceled"
	PaymentOutcomeWaiting   = "waiting"
	PaymentOutcomeUnchanged = "unchanged"
)

type PaymentCheckOutput struct {
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Outcome       string `json:"outcome"`
}

// Initiate は決済リンクを発行する。
// 生きている決済が既にあればそれを返し、新しくは作らない。
func (u *PaymentUsecase) Initiate(ctx context.Context, userID int64, orderID int64) (PaymentHandle, error) {
	o, err := u.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return PaymentHandle{}, err
	}
	if !o.Payable() {
		return PaymentHandle{}, ErrOrderNotPayable
	}

	if o.PaymentID != nil {
		gp, err := u.getPayment(ctx, *o.PaymentID)
		if err != nil {
			return PaymentHandle{}, err
		}
		if isOpenPayment(gp) {
			return u.handle(o, gp), nil
		}
		// 決着済みの決済はここで取り込む
		if _, err := u.apply(ctx, o, gp); err != nil {
			return PaymentHandle{}, err
		}
		return PaymentHandle{}, ErrOrderNotPayable
	}

	key := u.ids.NewID()
	now := u.clock.Now()

	var attemptID int64
	if err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		attemptID, err = r.PaymentAttempts().Create(ctx, model.PaymentAttempt{
			OrderID:        o.ID,
			IdempotencyKey: key,
			Amount:         o.TotalAmount,
			Status:         model.PaymentAttemptStarted,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return err
	}); err != nil {
		return PaymentHandle{}, err
	}

	gp, err := u.createPayment(ctx, model.CreatePaymentRequest{
		IdempotencyKey: key,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		Amount:         o.TotalAmount,
		Currency:       u.cfg.Currency,
		Description:    fmt.Sprintf("Order %s", o.OrderNumber),
		ReturnURL:      u.cfg.ReturnURL,
	})
	if err != nil {
		if txErr := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.PaymentAttempts().MarkFailed(ctx, attemptID)
		}); txErr != nil {
			u.log.ErrorContext(ctx, "failed to mark payment attempt", "attempt_id", attemptID, "err", txErr)
		}
		return PaymentHandle{}, err
	}

	// ロックし直して、まだ払える注文なら決済IDを記録する
	var conflict, unpayable bool
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		locked, err := r.Orders().FindByIDForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		switch {
		case !locked.Payable():
			unpayable = true
		case locked.PaymentID != nil:
			conflict = true
		}
		if unpayable || conflict {
			return r.PaymentAttempts().MarkFailed(ctx, attemptID)
		}

		at := u.clock.Now()
		if err := r.Orders().SetPaymentID(ctx, o.ID, gp.ID, at); err != nil {
			return err
		}
		return r.PaymentAttempts().MarkCreated(ctx, attemptID, gp.ID, gp.ConfirmationURL)
	})
	if err != nil {
		return PaymentHandle{}, err
	}
	if unpayable || conflict {
		u.cancelQuietly(ctx, o.ID, gp.ID)
		if conflict {
			return PaymentHandle{}, NewHTTPError(http.StatusConflict, "payment already started")
		}
		return PaymentHandle{}, ErrOrderNotPayable
	}

	u.log.InfoContext(ctx, "payment created", "order_id", o.ID, "payment_id", gp.ID, "amount", o.TotalAmount.String())
	return u.handle(o, gp), nil
}

// Check は購入者による決済確認
func (u *PaymentUsecase) Check(ctx context.Context, userID int64, orderID int64) (PaymentCheckOutput, error) {
	o, err := u.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return PaymentCheckOutput{}, err
	}
	return u.reconcile(ctx, o)
}

// AdminCheck は管理者による決済確認。所有者は問わない
func (u *PaymentUsecase) AdminCheck(ctx context.Context, orderID int64) (PaymentCheckOutput, error) {
	if orderID <= 0 {
		return PaymentCheckOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := u.findOrder(ctx, func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByID(ctx, orderID)
	})
	if err != nil {
		return PaymentCheckOutput{}, err
	}
	return u.reconcile(ctx, o)
}

// HandleNotification はゲートウェイからの通知。
// 本文の状態は使わず、決済IDでゲートウェイに問い合わせ直す。
func (u *PaymentUsecase) HandleNotification(ctx context.Context, paymentID string) (PaymentCheckOutput, error) {
	if paymentID == "" {
		return PaymentCheckOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}
	o, err := u.findOrder(ctx, func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByPaymentID(ctx, paymentID)
	})
	if err != nil {
		return PaymentCheckOutput{}, err
	}
	return u.reconcile(ctx, o)
}

// reconcile はゲートウェイの状態を注文に取り込む。3つの入口で共通
func (u *PaymentUsecase) reconcile(ctx context.Context, o model.Order) (PaymentCheckOutput, error) {
	if o.PaymentID == nil {
		return PaymentCheckOutput{}, ErrPaymentNotStarted
	}
	if o.PaymentStatus.IsFinal() {
		return checkOutput(o, PaymentOutcomeUnchanged), nil
	}

	gp, err := u.getPayment(ctx, *o.PaymentID)
	if err != nil {
		return PaymentCheckOutput{}, err
	}
	return u.apply(ctx, o, gp)
}

// apply は取得済みの決済状態を行ロックの下で反映する。
// 他の経路が先に反映していれば何もしない。通知は反映したときだけ。
func (u *PaymentUsecase) apply(ctx context.Context, o model.Order, gp model.GatewayPayment) (PaymentCheckOutput, error) {
	var target model.PaymentStatus
	switch {
	case gp.Status == model.GatewayStatusSucceeded && gp.Paid:
		target = model.PaymentStatusSucceeded
	case gp.Status == model.GatewayStatusCanceled:
		target = model.PaymentStatusCanceled
	default:
		u.metrics.RecordPayment(ctx, PaymentOutcomeWaiting, decimal.Zero)
		return checkOutput(o, PaymentOutcomeWaiting), nil
	}

	// 金額の無い成功応答は壊れている扱い
	if target == model.PaymentStatusSucceeded && gp.Amount.IsZero() {
		u.log.ErrorContext(ctx, "payment without amount", "order_id", o.ID, "payment_id", gp.ID)
		return PaymentCheckOutput{}, gatewayError(fmt.Errorf("payment %s has no amount", gp.ID))
	}
	if target == model.PaymentStatusSucceeded && !gp.Amount.Equal(o.TotalAmount) {
		u.log.ErrorContext(ctx, "payment amount mismatch",
			"order_id", o.ID, "payment_id", gp.ID,
			"expected", o.TotalAmount.String(), "paid", gp.Amount.String())
		return PaymentCheckOutput{}, gatewayError(fmt.Errorf("amount mismatch for payment %s", gp.ID))
	}

	var (
		out     PaymentCheckOutput
		snap    model.OrderSnapshot
		before  model.OrderStatus
		applied bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		locked, err := r.Orders().FindByIDForUpdate(ctx, o.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		// 別の決済に差し替わっている、または反映済み
		if locked.PaymentID == nil || *locked.PaymentID != gp.ID || locked.PaymentStatus.IsFinal() {
			out = checkOutput(locked, PaymentOutcomeUnchanged)
			return nil
		}

		before = locked.Status
		next := locked.Status
		if target == model.PaymentStatusSucceeded {
			next = locked.Status.AfterPaymentSucceeded()
		} else if locked.Status != model.OrderStatusCompleted {
			next = model.OrderStatusCancelled
		}

		updated, err := applyOrderChange(ctx, r, locked, orderChange{
			actorID:       model.SystemActorID,
			status:        next,
			paymentStatus: target,
			restock:       u.cfg.RestockOnCancel && target == model.PaymentStatusCanceled,
			at:            u.clock.Now(),
		})
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}
		snap = model.OrderSnapshot{Order: updated, Items: items}
		out = checkOutput(updated, string(target))
		applied = true
		return nil
	})
	if err != nil {
		return PaymentCheckOutput{}, err
	}
	if !applied {
		return out, nil
	}

	u.metrics.RecordPayment(ctx, out.Outcome, snap.Order.TotalAmount)
	switch {
	case target == model.PaymentStatusSucceeded && before == model.OrderStatusCancelled:
		// キャンセル後に支払われた。注文は戻さず管理者に任せる
		u.notifier.NotifyAdmins(ctx, snap, model.OrderEventPaidAfterCancel)
		u.log.WarnContext(ctx, "payment succeeded for cancelled order", "order_id", o.ID, "payment_id", gp.ID)
	case target == model.PaymentStatusSucceeded:
		u.notifier.NotifyAdmins(ctx, snap, model.OrderEventPaid)
		u.notifier.NotifyBuyer(ctx, snap, model.OrderEventPaid)
		u.log.InfoContext(ctx, "payment succeeded", "order_id", o.ID, "payment_id", gp.ID)
	default:
		u.notifier.NotifyBuyer(ctx, snap, model.OrderEventPaymentCanceled)
		u.log.InfoContext(ctx, "payment canceled", "order_id", o.ID, "payment_id", gp.ID)
	}
	return out, nil
}

func (u *PaymentUsecase) ownedOrder(ctx context.Context, userID int64, orderID int64) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := u.findOrder(ctx, func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByID(ctx, orderID)
	})
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != userID {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (u *PaymentUsecase) findOrder(ctx context.Context, find func(r repo.TxRepos) (model.Order, error)) (model.Order, error) {
	var o model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		o, err = find(r)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (u *PaymentUsecase) createPayment(ctx context.Context, req model.CreatePaymentRequest) (model.GatewayPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	start := time.Now()
	gp, err := u.gateway.CreatePayment(ctx, req)
	u.metrics.RecordGateway(ctx, "create", start, err)
	if err != nil {
		u.log.ErrorContext(ctx, "gateway create payment failed", "order_id", req.OrderID, "err", err)
		return model.GatewayPayment{}, gatewayError(err)
	}
	if gp.ID == "" {
		return model.GatewayPayment{}, gatewayError(errors.New("empty payment id"))
	}
	return gp, nil
}

func (u *PaymentUsecase) getPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	start := time.Now()
	gp, err := u.gateway.GetPayment(ctx, paymentID)
	u.metrics.RecordGateway(ctx, "get", start, err)
	if err != nil {
		u.log.WarnContext(ctx, "gateway get payment failed", "payment_id", paymentID, "err", err)
		return model.GatewayPayment{}, gatewayError(err)
	}
	if gp.ID != paymentID {
		return model.GatewayPayment{}, gatewayError(fmt.Errorf("unexpected payment id %q", gp.ID))
	}
	return gp, nil
}

func (u *PaymentUsecase) cancelQuietly(ctx context.Context, orderID int64, paymentID string) {
	cancelPaymentQuietly(ctx, u.gateway, u.metrics, u.log, u.cfg.Timeout, orderID, paymentID, u.ids.NewID())
}

// ゲートウェイ側の決済を取り消す。失敗はログだけ
func cancelPaymentQuietly(ctx context.Context, gateway PaymentGateway, m *metrics.Metrics, log *slog.Logger, timeout time.Duration, orderID int64, paymentID string, idempotencyKey string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := gateway.CancelPayment(ctx, paymentID, idempotencyKey)
	m.RecordGateway(ctx, "cancel", start, err)
	if err != nil {
		log.WarnContext(ctx, "gateway cancel failed", "order_id", orderID, "payment_id", paymentID, "err", err)
	}
}

func (u *PaymentUsecase) handle(o model.Order, gp model.GatewayPayment) PaymentHandle {
	return PaymentHandle{
		OrderID:         o.ID,
		PaymentID:       gp.ID,
		ConfirmationURL: gp.ConfirmationURL,
		Amount:          o.TotalAmount,
		Currency:        u.cfg.Currency,
	}
}

func isOpenPayment(gp model.GatewayPayment) bool {
	return gp.Status == model.GatewayStatusPending || gp.Status == model.GatewayStatusWaitingForCapture
}

func checkOutput(o model.Order, outcome string) PaymentCheckOutput {
	return PaymentCheckOutput{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Outcome:       outcome,
	}
}
