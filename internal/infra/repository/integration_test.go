package repository_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	"github.com/vanyaWEB/botsshop/internal/infra/cache"
	"github.com/vanyaWEB/botsshop/internal/infra/db"
	infraRepo "github.com/vanyaWEB/botsshop/internal/infra/repository"
	"github.com/vanyaWEB/botsshop/internal/metrics"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
	"github.com/vanyaWEB/botsshop/internal/usecase"
)

// =====================
// container
// =====================

var (
	pgOnce      sync.Once
	pgContainer *postgres.PostgresContainer
	pgDB        *gorm.DB
	pgErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgContainer != nil {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate container: %s\n", err)
		}
	}
	os.Exit(code)
}

// setupDB はコンテナを1つだけ起動し、テストごとに全テーブルを空にする
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgOnce.Do(func() {
		ctx := context.Background()
		pgContainer, pgErr = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("testuser"),
			postgres.WithPassword("testpass"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if pgErr != nil {
			return
		}

		dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			pgErr = err
			return
		}

		gdb, sqlDB, err := db.Open(ctx, dsn)
		if err != nil {
			pgErr = err
			return
		}
		if err := db.Migrate(sqlDB); err != nil {
			pgErr = err
			return
		}
		pgDB = gdb
	})
	require.NoError(t, pgErr)

	require.NoError(t, pgDB.Exec(`TRUNCATE products, carts, cart_items, orders, order_items,
		payment_attempts, inventory_adjustments, audit_logs RESTART IDENTITY CASCADE`).Error)
	return pgDB
}

// =====================
// fakes
// =====================

type sentEvent struct {
	audience string
	event    model.OrderEvent
	orderID  int64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) NotifyBuyer(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{audience: "buyer", event: event, orderID: snap.Order.ID})
}

func (n *recordingNotifier) NotifyAdmins(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{audience: "admin", event: event, orderID: snap.Order.ID})
}

func (n *recordingNotifier) count(audience string, event model.OrderEvent) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.audience == audience && e.event == event {
			c++
		}
	}
	return c
}

// ゲートウェイ代わり。statusを書き換えて決済の結果を決める
type fakeGateway struct {
	mu      sync.Mutex
	status  string
	amounts map[string]decimal.Decimal
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: model.GatewayStatusPending, amounts: map[string]decimal.Decimal{}}
}

func (g *fakeGateway) setStatus(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = s
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (model.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "pay-" + req.OrderNumber
	g.amounts[id] = req.Amount
	return model.GatewayPayment{ID: id, Status: model.GatewayStatusPending, Amount: req.Amount, ConfirmationURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amount, ok := g.amounts[paymentID]
	if !ok {
		return model.GatewayPayment{}, errors.New("payment not found")
	}
	return model.GatewayPayment{
		ID:     paymentID,
		Status: g.status,
		Paid:   g.status == model.GatewayStatusSucceeded,
		Amount: amount,
	}, nil
}

func (g *fakeGateway) CancelPayment(ctx context.Context, paymentID string, idempotencyKey string) (model.GatewayPayment, error) {
	g.setStatus(model.GatewayStatusCanceled)
	return g.GetPayment(ctx, paymentID)
}

// CreateBulkだけ失敗させる
type failingItemsTx struct {
	inner repo.TransactionManager
}

type failingItemsRepos struct {
	repo.TxRepos
}

type failingOrderItems struct {
	repo.OrderItemRepository
}

func (failingOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	return errors.New("disk full")
}

func (r failingItemsRepos) OrderItems() repo.OrderItemRepository {
	return failingOrderItems{r.TxRepos.OrderItems()}
}

func (tm failingItemsTx) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.inner.WithinTx(ctx, func(r repo.TxRepos) error {
		return fn(failingItemsRepos{r})
	})
}

// =====================
// wiring
// =====================

type app struct {
	db       *gorm.DB
	products *infraRepo.ProductGormRepository
	carts    *usecase.CartUsecase
	orders   *usecase.OrderUsecase
	admin    *usecase.AdminOrderUsecase
	payments *usecase.PaymentUsecase
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func newApp(gdb *gorm.DB, restockOnCancel bool) *app {
	return newAppWithTx(gdb, infraRepo.NewTxManagerGorm(gdb), restockOnCancel)
}

func newAppWithTx(gdb *gorm.DB, tx repo.TransactionManager, restockOnCancel bool) *app {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.Noop()

	cartRepo := infraRepo.NewCartGormRepository(gdb)
	productRepo := infraRepo.NewProductGormRepository(gdb)
	gateway := newFakeGateway()
	notifier := &recordingNotifier{}

	carts := usecase.NewCartUsecase(cartRepo, cartRepo, productRepo, cache.NoopCache{}, log)
	return &app{
		db:       gdb,
		products: productRepo,
		carts:    carts,
		orders:   usecase.NewOrderUsecase(tx, carts, gateway, notifier, usecase.SystemClock{}, usecase.UUIDGenerator{}, m, log, usecase.OrderConfig{
			RestockOnCancel: restockOnCancel,
			GatewayTimeout:  5 * time.Second,
		}),
		admin:    usecase.NewAdminOrderUsecase(tx, notifier, usecase.SystemClock{}, log, restockOnCancel),
		payments: usecase.NewPaymentUsecase(tx, gateway, notifier, usecase.SystemClock{}, usecase.UUIDGenerator{}, m, log, usecase.PaymentConfig{
			Currency:        "RUB",
			ReturnURL:       "https://shop.example/return",
			Timeout:         5 * time.Second,
			RestockOnCancel: restockOnCancel,
		}),
		gateway:  gateway,
		notifier: notifier,
	}
}

func seedProduct(t *testing.T, gdb *gorm.DB, name string, price string, stock int64) int64 {
	t.Helper()
	p := model.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
		Variants: []string{},
	}
	require.NoError(t, gdb.Create(&p).Error)
	return p.ID
}

func (a *app) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	p, err := a.products.FindByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (a *app) count(t *testing.T, table string, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := a.db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func checkoutInput(key string) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		Phone:          "+79001234567",
		Address:        "Moscow, Tverskaya 1",
		IdempotencyKey: key,
	}
}

// =====================
// tests
// =====================

func TestCheckout_EndToEnd(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()
	userID := int64(7)

	pA := seedProduct(t, gdb, "A", "100.00", 10)
	pB := seedProduct(t, gdb, "B", "50.00", 5)

	_, err := a.carts.AddToCart(ctx, userID, usecase.AddCartInput{ProductID: pA, Quantity: 1})
	require.NoError(t, err)
	view, err := a.carts.AddToCart(ctx, userID, usecase.AddCartInput{ProductID: pB, Quantity: 3})
	require.NoError(t, err)
	assert.True(t, view.Total.Equal(decimal.NewFromInt(250)))

	out, err := a.orders.PlaceOrder(ctx, userID, checkoutInput(""))
	require.NoError(t, err)

	assert.True(t, out.TotalAmount.Equal(decimal.NewFromInt(250)), "total=%s", out.TotalAmount)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, "pending", out.PaymentStatus)
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-\d{6}$`), out.OrderNumber)
	assert.Len(t, out.Items, 2)

	assert.Equal(t, int64(9), a.stock(t, pA))
	assert.Equal(t, int64(2), a.stock(t, pB))
	assert.Equal(t, int64(0), a.count(t, "cart_items", ""))
	assert.Equal(t, int64(2), a.count(t, "order_items", "order_id = ?", out.ID))
	assert.Equal(t, int64(2), a.count(t, "inventory_adjustments", "order_id = ? AND delta < 0 AND reason = ?", out.ID, model.AdjustmentReasonOrder))
	assert.Equal(t, 1, a.notifier.count("buyer", model.OrderEventCreated))

	// 注文後にカートを見ると空
	view, err = a.carts.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	// 価格が後で変わってもスナップショットは変わらない
	require.NoError(t, gdb.Model(&model.Product{}).Where("id = ?", pA).Update("price", "999.00").Error)
	detail, err := a.orders.GetMyOrderDetail(ctx, userID, out.ID)
	require.NoError(t, err)
	assert.True(t, detail.TotalAmount.Equal(decimal.NewFromInt(250)))
	for _, it := range detail.Items {
		if it.ProductID != nil && *it.ProductID == pA {
			assert.True(t, it.Price.Equal(decimal.NewFromInt(100)))
		}
	}
}

func TestCheckout_ConcurrentOrdersNeverOversell(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()

	const (
		stock  = 3
		buyers = 8
	)
	pid := seedProduct(t, gdb, "Limited", "10.00", stock)

	for u := int64(1); u <= buyers; u++ {
		_, err := a.carts.AddToCart(ctx, u, usecase.AddCartInput{ProductID: pid, Quantity: 1})
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortage  int
		others    []error
	)
	start := make(chan struct{})
	for u := int64(1); u <= buyers; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			<-start
			_, err := a.orders.PlaceOrder(ctx, userID, checkoutInput(""))

			mu.Lock()
			defer mu.Unlock()
			var ise *usecase.InsufficientStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &ise):
				shortage++
			default:
				others = append(others, err)
			}
		}(u)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, stock, succeeded)
	assert.Equal(t, buyers-stock, shortage)
	assert.Equal(t, int64(0), a.stock(t, pid))
	assert.Equal(t, int64(stock), a.count(t, "orders", ""))
}

func TestCheckout_RollbackLeavesNothing(t *testing.T) {
	gdb := setupDB(t)
	a := newAppWithTx(gdb, failingItemsTx{inner: infraRepo.NewTxManagerGorm(gdb)}, false)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)

	_, err = a.orders.PlaceOrder(ctx, 7, checkoutInput("k-1"))
	require.Error(t, err)

	assert.Equal(t, int64(5), a.stock(t, pid))
	assert.Equal(t, int64(0), a.count(t, "orders", ""))
	assert.Equal(t, int64(0), a.count(t, "inventory_adjustments", ""))
	assert.Equal(t, int64(1), a.count(t, "cart_items", ""))
	assert.Equal(t, 0, a.notifier.count("buyer", model.OrderEventCreated))
}

func TestCheckout_SameIdempotencyKeyReturnsSameOrder(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)

	first, err := a.orders.PlaceOrder(ctx, 7, checkoutInput("k-1"))
	require.NoError(t, err)
	second, err := a.orders.PlaceOrder(ctx, 7, checkoutInput("k-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, int64(3), a.stock(t, pid))
	assert.Equal(t, int64(1), a.count(t, "orders", ""))
}

func TestCart_AddSameLineMerges(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)

	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)
	view, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(4), view.Items[0].Quantity)
	assert.Equal(t, int64(1), a.count(t, "cart_items", ""))

	// 4 + 2 > 5
	_, err = a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	var ise *usecase.InsufficientStockError
	require.True(t, errors.As(err, &ise), "err=%v", err)
	assert.Equal(t, int64(5), ise.Available)
	assert.Equal(t, int64(1), a.count(t, "cart_items", "quantity = 4"))
}

func TestPayment_CheckTwiceAppliesOnce(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 1})
	require.NoError(t, err)
	order, err := a.orders.PlaceOrder(ctx, 7, checkoutInput(""))
	require.NoError(t, err)

	h, err := a.payments.Initiate(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay-"+order.OrderNumber, h.PaymentID)

	// まだ支払われていない
	out, err := a.payments.Check(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentOutcomeWaiting, out.Outcome)

	a.gateway.setStatus(model.GatewayStatusSucceeded)

	first, err := a.payments.Check(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentOutcomeSucceeded, first.Outcome)
	assert.Equal(t, "processing", first.Status)

	// webhookが後から届いても何も変わらない
	second, err := a.payments.HandleNotification(ctx, h.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentOutcomeUnchanged, second.Outcome)

	assert.Equal(t, int64(1), a.count(t, "audit_logs", "action = ?", model.AuditActionUpdatePaymentStatus))
	assert.Equal(t, 1, a.notifier.count("buyer", model.OrderEventPaid))
	assert.Equal(t, 1, a.notifier.count("admin", model.OrderEventPaid))
	assert.Equal(t, int64(1), a.count(t, "payment_attempts", "order_id = ? AND status = ?", order.ID, model.PaymentAttemptCreated))

	// 支払い済みの注文はもう決済を始められない
	_, err = a.payments.Initiate(ctx, 7, order.ID)
	assert.ErrorIs(t, err, usecase.ErrOrderNotPayable)
}

func TestCancel_RestocksSoftDeletedProduct(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, true)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	var orders []usecase.OrderOutput
	for _, userID := range []int64{7, 8} {
		_, err := a.carts.AddToCart(ctx, userID, usecase.AddCartInput{ProductID: pid, Quantity: 2})
		require.NoError(t, err)
		o, err := a.orders.PlaceOrder(ctx, userID, checkoutInput(""))
		require.NoError(t, err)
		orders = append(orders, o)
	}

	// 注文後にカタログから外された
	require.NoError(t, gdb.Delete(&model.Product{}, pid).Error)

	h, err := a.payments.Initiate(ctx, 7, orders[0].ID)
	require.NoError(t, err)
	a.gateway.setStatus(model.GatewayStatusCanceled)

	out, err := a.payments.HandleNotification(ctx, h.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentOutcomeCanceled, out.Outcome)
	assert.Equal(t, "cancelled", out.Status)

	cancelled, err := a.orders.CancelOrder(ctx, 8, orders[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.Status)

	var p model.Product
	require.NoError(t, gdb.Unscoped().First(&p, pid).Error)
	assert.Equal(t, int64(5), p.Stock)
	assert.True(t, p.DeletedAt.Valid)
	assert.Equal(t, int64(2), a.count(t, "inventory_adjustments", "reason = ? AND product_id = ?", model.AdjustmentReasonRestock, pid))
}

func TestCancel_RestocksWhenEnabled(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, true)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)
	order, err := a.orders.PlaceOrder(ctx, 7, checkoutInput(""))
	require.NoError(t, err)
	require.Equal(t, int64(3), a.stock(t, pid))

	out, err := a.orders.CancelOrder(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", out.Status)
	assert.Equal(t, int64(5), a.stock(t, pid))
	assert.Equal(t, int64(1), a.count(t, "inventory_adjustments", "reason = ? AND delta = 2", model.AdjustmentReasonRestock))

	// 2回目は何もしない
	_, err = a.orders.CancelOrder(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.stock(t, pid))

	// 終端からは動かせない
	_, err = a.admin.UpdateStatus(ctx, 1, order.ID, usecase.AdminUpdateOrderStatusInput{Status: "processing"})
	assert.ErrorIs(t, err, usecase.ErrInvalidTransition)
}

func TestCancel_NoRestockByDefault(t *testing.T) {
	gdb := setupDB(t)
	a := newApp(gdb, false)
	ctx := context.Background()

	pid := seedProduct(t, gdb, "A", "100.00", 5)
	_, err := a.carts.AddToCart(ctx, 7, usecase.AddCartInput{ProductID: pid, Quantity: 2})
	require.NoError(t, err)
	order, err := a.orders.PlaceOrder(ctx, 7, checkoutInput(""))
	require.NoError(t, err)

	_, err = a.admin.UpdateStatus(ctx, 1, order.ID, usecase.AdminUpdateOrderStatusInput{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.stock(t, pid))

	logs, err := a.admin.History(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].ActorUserID)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, logs[0].Action)
}

func TestNextOrderNumber_UniqueUnderConcurrency(t *testing.T) {
	gdb := setupDB(t)
	orders := infraRepo.NewOrderGormRepository(gdb)
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := orders.NextOrderNumber(context.Background(), now)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[num] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, n)
	for num := range numbers {
		assert.Regexp(t, `^ORD-20260314-\d{6}$`, num)
	}
}
