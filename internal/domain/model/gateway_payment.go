package model

import "github.com/shopspring/decimal"

// ゲートウェイ側の決済の状態
const (
	GatewayStatusPending           = "pending"
	GatewayStatusWaitingForCapture = "waiting_for_capture"
	GatewayStatusSucceeded         = "succeeded"
	GatewayStatusCanceled          = "canceled"
)

type CreatePaymentRequest struct {
	IdempotencyKey string
	OrderID        int64
	OrderNumber    string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
}

type GatewayPayment struct {
	ID              string
	Status          string
	Paid            bool
	Amount          decimal.Decimal
	Currency        string
	ConfirmationURL string
	OrderID         int64
}
