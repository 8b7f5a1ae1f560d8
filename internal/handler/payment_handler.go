package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vanyaWEB/botsshop/internal/usecase"
)

type paymentService interface {
	Initiate(ctx context.Context, userID int64, orderID int64) (usecase.PaymentHandle, error)
	Check(ctx context.Context, userID int64, orderID int64) (usecase.PaymentCheckOutput, error)
	HandleNotification(ctx context.Context, paymentID string) (usecase.PaymentCheckOutput, error)
}

type PaymentHandler struct {
	uc paymentService
}

func NewPaymentHandler(uc paymentService) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

// ゲートウェイの通知本文。使うのは決済IDだけ
type PaymentNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.POST("/orders/:id/payment", h.initiate, auth)
	e.POST("/orders/:id/payment/check", h.check, auth)

	// 認証なし。状態はゲートウェイに問い合わせ直す
	e.POST("/payments/webhook", h.webhook)
}

func (h *PaymentHandler) initiate(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Initiate(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) check(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Check(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) webhook(c echo.Context) error {
	var req PaymentNotification
	if err := c.Bind(&req); err != nil || req.Object.ID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.HandleNotification(c.Request().Context(), req.Object.ID)
	if errors.Is(err, usecase.ErrNotFound) {
		// 知らない決済は再送されても意味がないので200で受ける
		slog.WarnContext(c.Request().Context(), "webhook for unknown payment", "payment_id", req.Object.ID, "event", req.Event)
		return c.JSON(http.StatusOK, SuccessResponse{Message: "ignored"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
