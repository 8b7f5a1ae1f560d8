package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vanyaWEB/botsshop/internal/config"
	"github.com/vanyaWEB/botsshop/internal/handler"
	"github.com/vanyaWEB/botsshop/internal/middleware"
)

type Handlers struct {
	Cart       *handler.CartHandler
	Order      *handler.OrderHandler
	Payment    *handler.PaymentHandler
	AdminOrder *handler.AdminOrderHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	auth := middleware.AuthJWT(cfg.JWTSecret)
	adminOnly := middleware.AdminGuard(cfg.AdminIDs)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	h.Cart.RegisterRoutes(e, auth)
	h.Order.RegisterRoutes(e, auth)
	h.Payment.RegisterRoutes(e, auth)
	h.AdminOrder.RegisterRoutes(e, auth, adminOnly)
}
