package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
	"github.com/vanyaWEB/botsshop/internal/metrics"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
)

// 注文作成でカートの中身が変わったときに呼ぶ
type cartInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

type OrderUsecase struct {
	tx       repo.TransactionManager
	carts    cartInvalidator
	gateway  PaymentGateway
	notifier Notifier
	clock    Clock
	ids      IDGenerator
	metrics  *metrics.Metrics
	log      *slog.Logger

	cfg OrderConfig
}

type OrderConfig struct {
	RestockOnCancel bool
	//決済取り消し1回あたりの上限
	GatewayTimeout time.Duration
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	carts cartInvalidator,
	gateway PaymentGateway,
	notifier Notifier,
	clock Clock,
	ids IDGenerator,
	m *metrics.Metrics,
	log *slog.Logger,
	cfg OrderConfig,
) *OrderUsecase {
	return &OrderUsecase{
		tx:       tx,
		carts:    carts,
		gateway:  gateway,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

type PlaceOrderInput struct {
	Phone          string
	Address        string
	Comment        string
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	Variant   string          `json:"variant"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderOutput struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	OrderNumber   string            `json:"order_number"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	PaymentID     *string           `json:"payment_id"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Phone         string            `json:"phone"`
	Address       string            `json:"address"`
	Comment       string            `json:"comment"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Items         []OrderItemOutput `json:"items"`
}

// PlaceOrder はカートから注文を作る。
// 在庫引当・採番・明細作成・カートのクリアは1つのトランザクションで行い、
// どこかで失敗すれば何も残らない。通知はcommit後。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	phone, ok := normalizePhone(in.Phone)
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid phone")
	}
	address := strings.TrimSpace(in.Address)
	if n := utf8.RuneCountInString(address); n < 5 || n > 500 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid address")
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > 1000 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "comment too long")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}

	var (
		out     OrderOutput
		snap    model.OrderSnapshot
		created bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 先にカート明細をロックする。同じカートの同時注文はここで直列になる
		var lines []model.CartItem
		cart, err := r.Carts().FindByUserID(ctx, userID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
		case err != nil:
			return err
		default:
			if lines, err = r.CartItems().ListByCartIDForUpdate(ctx, cart.ID); err != nil {
				return err
			}
		}

		// 同じキーなら同じ結果
		if key != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err != nil {
				return err
			}
			if found {
				items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
				if err != nil {
					return err
				}
				out = toOrderOutput(existing, items)
				return nil
			}
		}

		if len(lines) == 0 {
			return ErrEmptyCart
		}

		stock := make([]repo.StockLine, 0, len(lines))
		for _, l := range lines {
			stock = append(stock, repo.StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
		}
		locked, err := r.Inventory().ReserveAndCommit(ctx, stock)
		if err != nil {
			return u.toInsufficientStock(ctx, r, err)
		}
		products := make(map[int64]model.Product, len(locked))
		for _, p := range locked {
			products[p.ID] = p
		}

		now := u.clock.Now()
		number, err := r.Orders().NextOrderNumber(ctx, now)
		if err != nil {
			return err
		}

		// 価格はロックした商品行から取る（カート表示時の値は使わない）
		items := make([]model.OrderItem, 0, len(lines))
		total := decimal.Zero
		for _, l := range lines {
			p := products[l.ProductID]
			pid := p.ID
			it := model.OrderItem{
				ProductID:           &pid,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            l.Quantity,
				Variant:             l.Variant,
				CreatedAt:           now,
			}
			items = append(items, it)
			total = total.Add(it.Subtotal())
		}

		order := model.Order{
			UserID:        userID,
			OrderNumber:   number,
			TotalAmount:   total,
			Status:        model.OrderStatusPending,
			PaymentStatus: model.PaymentStatusPending,
			Phone:         phone,
			Address:       address,
			Comment:       comment,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if key != "" {
			order.IdempotencyKey = &key
		}

		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID

		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = orderID
		}

		adjustments := make([]model.InventoryAdjustment, 0, len(items))
		for _, it := range items {
			oid := orderID
			adjustments = append(adjustments, model.InventoryAdjustment{
				ProductID:   *it.ProductID,
				OrderID:     &oid,
				ActorUserID: userID,
				Delta:       -it.Quantity,
				Reason:      model.AdjustmentReasonOrder,
				CreatedAt:   now,
			})
		}
		if err := r.Inventory().CreateAdjustments(ctx, adjustments); err != nil {
			return err
		}

		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return err
		}

		out = toOrderOutput(order, items)
		snap = model.OrderSnapshot{Order: order, Items: items}
		created = true
		return nil
	})
	if err != nil {
		var ise *InsufficientStockError
		switch {
		case errors.As(err, &ise):
			u.metrics.RecordOrderRejected(ctx, "insufficient_stock")
		case errors.Is(err, ErrEmptyCart):
			u.metrics.RecordOrderRejected(ctx, "empty_cart")
		case errors.Is(err, repo.ErrDuplicate):
			return OrderOutput{}, NewHTTPError(http.StatusConflict, "duplicate order request")
		}
		return OrderOutput{}, err
	}

	if created {
		u.carts.Invalidate(ctx, userID)
		u.metrics.RecordOrderCreated(ctx)
		u.notifier.NotifyBuyer(ctx, snap, model.OrderEventCreated)
		u.log.InfoContext(ctx, "order created",
			"order_id", snap.Order.ID,
			"order_number", snap.Order.OrderNumber,
			"user_id", userID,
			"total", snap.Order.TotalAmount.String(),
		)
	}
	return out, nil
}

// 在庫不足は商品名を付けて返す
func (u *OrderUsecase) toInsufficientStock(ctx context.Context, r repo.TxRepos, err error) error {
	var shortage *repo.StockShortageError
	if !errors.As(err, &shortage) {
		return err
	}

	ise := &InsufficientStockError{
		ProductID: shortage.ProductID,
		Requested: shortage.Requested,
		Available: shortage.Available,
	}
	if p, perr := r.Products().FindByID(ctx, shortage.ProductID); perr == nil {
		ise.ProductName = p.Name
	}
	return ise
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, ErrUnauthorized
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return err
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return ErrNotFound
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
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

// CancelOrder は購入者によるキャンセル。pendingかつ未決済のときだけ。
// すでにcancelledなら何もせず今の状態を返す。
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var (
		out           OrderOutput
		snap          model.OrderSnapshot
		cancelled     bool
		openPaymentID string
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotFound
		}

		if o.Status != model.OrderStatusCancelled {
			if !o.CancellableByBuyer() {
				return ErrOrderNotCancellable
			}
			if o, err = applyOrderChange(ctx, r, o, orderChange{
				actorID:       userID,
				status:        model.OrderStatusCancelled,
				paymentStatus: o.PaymentStatus,
				restock:       u.cfg.RestockOnCancel,
				at:            u.clock.Now(),
			}); err != nil {
				return err
			}
			cancelled = true
			if o.PaymentID != nil && o.PaymentStatus == model.PaymentStatusPending {
				openPaymentID = *o.PaymentID
			}
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

	if cancelled {
		// 未完了の決済は取り消しを試みる。失敗しても注文はキャンセル済み
		if openPaymentID != "" {
			cancelPaymentQuietly(ctx, u.gateway, u.metrics, u.log, u.cfg.GatewayTimeout, orderID, openPaymentID, u.ids.NewID())
		}
		u.notifier.NotifyBuyer(ctx, snap, model.OrderEventCancelled)
		u.log.InfoContext(ctx, "order cancelled by buyer", "order_id", orderID, "user_id", userID)
	}
	return out, nil
}

// 記号・空白を除いて10〜15桁。先頭の+は残す
func normalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r) && r <= unicode.MaxASCII:
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + digits, true
	}
	return digits, true
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Variant:   it.Variant,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal(),
		})
	}

	return OrderOutput{
		ID:            o.ID,
		UserID:        o.UserID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentID:     o.PaymentID,
		TotalAmount:   o.TotalAmount,
		Phone:         o.Phone,
		Address:       o.Address,
		Comment:       o.Comment,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         outItems,
	}
}
