package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vanyaWEB/botsshop/internal/usecase"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// 在庫不足は、どの商品があと何個あるかも返す
type InsufficientStockResponse struct {
	Error       string `json:"error"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	var ise *usecase.InsufficientStockError
	if errors.As(err, &ise) {
		name := ise.ProductName
		if name == "" {
			name = fmt.Sprintf("product %d", ise.ProductID)
		}
		return c.JSON(http.StatusConflict, InsufficientStockResponse{
			Error:       fmt.Sprintf("not enough %s in stock: %d left", name, ise.Available),
			ProductID:   ise.ProductID,
			ProductName: ise.ProductName,
			Requested:   ise.Requested,
			Available:   ise.Available,
		})
	}

	switch {
	case errors.Is(err, usecase.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, usecase.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, usecase.ErrEmptyCart):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cart is empty"})
	case errors.Is(err, usecase.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "status change not allowed"})
	case errors.Is(err, usecase.ErrOrderNotCancellable):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "order can no longer be cancelled"})
	case errors.Is(err, usecase.ErrOrderNotPayable):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "order cannot be paid"})
	case errors.Is(err, usecase.ErrPaymentNotStarted):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "payment has not been started"})
	case errors.Is(err, usecase.ErrGateway):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment service unavailable, try again later"})
	}

	//500
	slog.ErrorContext(c.Request().Context(), "unhandled error",
		"method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get("user_id")
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

func parseIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
