package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vanyaWEB/botsshop/internal/metrics"
)

// HTTPMetrics はルート単位でリクエスト数と処理時間を記録する
func HTTPMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTP(c.Request().Context(), c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
