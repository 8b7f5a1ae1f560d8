package usecase_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// TxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type TxReposMock struct {
	orders          repo.OrderRepository
	orderItems      repo.OrderItemRepository
	carts           repo.CartRepository
	cartItems       repo.CartItemRepository
	inventory       repo.InventoryRepository
	products        repo.ProductRepository
	paymentAttempts repo.PaymentAttemptRepository
	auditLogs       repo.AuditLogRepository
}

func (r *TxReposMock) Orders() repo.OrderRepository                   { return r.orders }
func (r *TxReposMock) OrderItems() repo.OrderItemRepository           { return r.orderItems }
func (r *TxReposMock) Carts() repo.CartRepository                     { return r.carts }
func (r *TxReposMock) CartItems() repo.CartItemRepository             { return r.cartItems }
func (r *TxReposMock) Inventory() repo.InventoryRepository            { return r.inventory }
func (r *TxReposMock) Products() repo.ProductRepository               { return r.products }
func (r *TxReposMock) PaymentAttempts() repo.PaymentAttemptRepository { return r.paymentAttempts }
func (r *TxReposMock) AuditLogs() repo.AuditLogRepository             { return r.auditLogs }

// =====================
// Repository mocks
// =====================

type OrderRepoMock struct{ mock.Mock }

func (m *OrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) FindByNumber(ctx context.Context, number string) (model.Order, error) {
	args := m.Called(ctx, number)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error) {
	args := m.Called(ctx, paymentID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *OrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OrderRepoMock) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error {
	args := m.Called(ctx, orderID, status, at)
	return args.Error(0)
}

func (m *OrderRepoMock) UpdatePaymentState(ctx context.Context, orderID int64, paymentStatus model.PaymentStatus, status model.OrderStatus, at time.Time) error {
	args := m.Called(ctx, orderID, paymentStatus, status, at)
	return args.Error(0)
}

func (m *OrderRepoMock) SetPaymentID(ctx context.Context, orderID int64, paymentID string, at time.Time) error {
	args := m.Called(ctx, orderID, paymentID, at)
	return args.Error(0)
}

func (m *OrderRepoMock) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	args := m.Called(ctx, now)
	return args.String(0), args.Error(1)
}

func (m *OrderRepoMock) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	args := m.Called(ctx, userID, key)
	o, _ := args.Get(0).(model.Order)
	return o, args.Bool(1), args.Error(2)
}

func (m *OrderRepoMock) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	args := m.Called(ctx, f)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *OrderRepoMock) Stats(ctx context.Context, since time.Time, topLimit int) (repo.OrderStats, error) {
	args := m.Called(ctx, since, topLimit)
	s, _ := args.Get(0).(repo.OrderStats)
	return s, args.Error(1)
}

type OrderItemRepoMock struct{ mock.Mock }

func (m *OrderItemRepoMock) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *OrderItemRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

type CartRepoMock struct{ mock.Mock }

func (m *CartRepoMock) GetOrCreateByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(model.Cart)
	return c, args.Error(1)
}

func (m *CartRepoMock) FindByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	args := m.Called(ctx, userID)
	c, _ := args.Get(0).(model.Cart)
	return c, args.Error(1)
}

func (m *CartRepoMock) Clear(ctx context.Context, cartID int64) error {
	args := m.Called(ctx, cartID)
	return args.Error(0)
}

type CartItemRepoMock struct{ mock.Mock }

func (m *CartItemRepoMock) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	args := m.Called(ctx, cartID)
	items, _ := args.Get(0).([]model.CartItem)
	return items, args.Error(1)
}

func (m *CartItemRepoMock) ListByCartIDForUpdate(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	args := m.Called(ctx, cartID)
	items, _ := args.Get(0).([]model.CartItem)
	return items, args.Error(1)
}

func (m *CartItemRepoMock) AddOrMerge(ctx context.Context, cartID int64, productID int64, variant string, addQty int64, limit int64) (model.CartItem, error) {
	args := m.Called(ctx, cartID, productID, variant, addQty, limit)
	it, _ := args.Get(0).(model.CartItem)
	return it, args.Error(1)
}

func (m *CartItemRepoMock) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	args := m.Called(ctx, cartItemID, qty)
	return args.Error(0)
}

func (m *CartItemRepoMock) DeleteByID(ctx context.Context, cartItemID int64) error {
	args := m.Called(ctx, cartItemID)
	return args.Error(0)
}

func (m *CartItemRepoMock) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	args := m.Called(ctx, cartItemID)
	it, _ := args.Get(0).(model.CartItem)
	return it, args.Error(1)
}

func (m *CartItemRepoMock) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	args := m.Called(ctx, cartItemID, userID)
	return args.Bool(0), args.Error(1)
}

type ProductRepoMock struct{ mock.Mock }

func (m *ProductRepoMock) FindByID(ctx context.Context, id int64) (model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

func (m *ProductRepoMock) FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	args := m.Called(ctx, ids)
	ps, _ := args.Get(0).(map[int64]model.Product)
	return ps, args.Error(1)
}

type InventoryRepoMock struct{ mock.Mock }

func (m *InventoryRepoMock) ReserveAndCommit(ctx context.Context, lines []repo.StockLine) ([]model.Product, error) {
	args := m.Called(ctx, lines)
	ps, _ := args.Get(0).([]model.Product)
	return ps, args.Error(1)
}

func (m *InventoryRepoMock) Release(ctx context.Context, lines []repo.StockLine) error {
	args := m.Called(ctx, lines)
	return args.Error(0)
}

func (m *InventoryRepoMock) CreateAdjustments(ctx context.Context, adjustments []model.InventoryAdjustment) error {
	args := m.Called(ctx, adjustments)
	return args.Error(0)
}

type PaymentAttemptRepoMock struct{ mock.Mock }

func (m *PaymentAttemptRepoMock) Create(ctx context.Context, attempt model.PaymentAttempt) (int64, error) {
	args := m.Called(ctx, attempt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *PaymentAttemptRepoMock) MarkCreated(ctx context.Context, attemptID int64, paymentID string, confirmationURL string) error {
	args := m.Called(ctx, attemptID, paymentID, confirmationURL)
	return args.Error(0)
}

func (m *PaymentAttemptRepoMock) MarkFailed(ctx context.Context, attemptID int64) error {
	args := m.Called(ctx, attemptID)
	return args.Error(0)
}

func (m *PaymentAttemptRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.PaymentAttempt, error) {
	args := m.Called(ctx, orderID)
	as, _ := args.Get(0).([]model.PaymentAttempt)
	return as, args.Error(1)
}

type AuditRepoMock struct{ mock.Mock }

func (m *AuditRepoMock) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *AuditRepoMock) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]model.AuditLog)
	return logs, args.Error(1)
}

// =====================
// Port mocks
// =====================

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (model.GatewayPayment, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(model.GatewayPayment)
	return p, args.Error(1)
}

func (m *GatewayMock) GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(model.GatewayPayment)
	return p, args.Error(1)
}

func (m *GatewayMock) CancelPayment(ctx context.Context, paymentID string, idempotencyKey string) (model.GatewayPayment, error) {
	args := m.Called(ctx, paymentID, idempotencyKey)
	p, _ := args.Get(0).(model.GatewayPayment)
	return p, args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) NotifyBuyer(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	m.Called(ctx, snap, event)
}

func (m *NotifierMock) NotifyAdmins(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	m.Called(ctx, snap, event)
}

type CartCacheMock struct{ mock.Mock }

func (m *CartCacheMock) Get(ctx context.Context, userID int64) (model.CartView, int64, bool, error) {
	args := m.Called(ctx, userID)
	v, _ := args.Get(0).(model.CartView)
	gen, _ := args.Get(1).(int64)
	return v, gen, args.Bool(2), args.Error(3)
}

func (m *CartCacheMock) Set(ctx context.Context, userID int64, gen int64, view model.CartView) error {
	args := m.Called(ctx, userID, gen, view)
	return args.Error(0)
}

func (m *CartCacheMock) Delete(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type CartInvalidatorMock struct{ mock.Mock }

func (m *CartInvalidatorMock) Invalidate(ctx context.Context, userID int64) {
	m.Called(ctx, userID)
}

// =====================
// Helpers
// =====================

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return "key-" + strings.Repeat("x", g.n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// エラーメッセージの部分一致（HTTPErrorの実装詳細に依存しない）
func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}

// 全リポジトリのモックをまとめて持つ
type txFixture struct {
	tx        *TxManagerMock
	orders    *OrderRepoMock
	items     *OrderItemRepoMock
	carts     *CartRepoMock
	cartItems *CartItemRepoMock
	inventory *InventoryRepoMock
	products  *ProductRepoMock
	attempts  *PaymentAttemptRepoMock
	audit     *AuditRepoMock
}

func newTxFixture() *txFixture {
	f := &txFixture{
		tx:        new(TxManagerMock),
		orders:    new(OrderRepoMock),
		items:     new(OrderItemRepoMock),
		carts:     new(CartRepoMock),
		cartItems: new(CartItemRepoMock),
		inventory: new(InventoryRepoMock),
		products:  new(ProductRepoMock),
		attempts:  new(PaymentAttemptRepoMock),
		audit:     new(AuditRepoMock),
	}
	f.tx.Repos = &TxReposMock{
		orders:          f.orders,
		orderItems:      f.items,
		carts:           f.carts,
		cartItems:       f.cartItems,
		inventory:       f.inventory,
		products:        f.products,
		paymentAttempts: f.attempts,
		auditLogs:       f.audit,
	}
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	return f
}

func (f *txFixture) assertExpectations(t *testing.T) {
	t.Helper()
	mock.AssertExpectationsForObjects(t, f.orders, f.items, f.carts, f.cartItems, f.inventory, f.products, f.attempts, f.audit)
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }
