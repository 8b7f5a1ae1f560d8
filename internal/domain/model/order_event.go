package model

// 通知の種類
type OrderEvent string

const (
	OrderEventCreated         OrderEvent = "order_created"
	OrderEventPaid            OrderEvent = "order_paid"
	OrderEventCancelled       OrderEvent = "order_cancelled"
	OrderEventStatusChanged   OrderEvent = "order_status_changed"
	OrderEventPaymentCanceled OrderEvent = "payment_canceled"
	OrderEventPaidAfterCancel OrderEvent = "paid_after_cancel"
)

// 通知に載せる注文の中身
type OrderSnapshot struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}
