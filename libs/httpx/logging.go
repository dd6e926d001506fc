package httpx

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func AccessLog(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo render the error so the logged status is final.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := []zap.Field{
				zap.String("request_id", RequestIDFromContext(req.Context())),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", res.Status),
				zap.Int64("bytes", res.Size),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if res.Status >= 500 {
				logger.Warn("http request", fields...)
			} else {
				logger.Info("http request", fields...)
			}
			return nil
		}
	}
}
