package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthJWTが入れたuser_idが管理者IDに含まれるかを確認します。
// 管理者IDは設定から渡す。
func AdminGuard(adminIDs []int64) echo.MiddlewareFunc {
	allowed := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := c.Get(CtxUserIDKey).(int64)
			if !ok || userID <= 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			if _, ok := allowed[userID]; !ok {
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}

			return next(c)
		}
	}
}
