package usecase

import (
	"errors"
	"fmt"
)

// 入力不正など、そのままHTTPに載せるエラー
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// ドメインのエラー。handlerでユーザー向けの文言に変える
var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrGateway             = errors.New("payment gateway error")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOrderNotPayable     = errors.New("order cannot be paid")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	ErrPaymentNotStarted   = errors.New("payment not started")
)

// 在庫不足。どの商品がいくつ残っているかを持つ
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (id %d): requested %d, available %d",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func gatewayError(err error) error {
	return fmt.Errorf("%w: %v", ErrGateway, err)
}
