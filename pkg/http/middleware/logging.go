package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"FxGuard/pkg/logger"
)

// RequestLogging logs every request at debug, 4xx at info and 5xx at error.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", routeLabel(c)),
				logger.Int("status", res.Status),
				logger.Int64("bytes", res.Size),
				logger.Duration("latency_ms", time.Since(start)),
				logger.String("remote", c.RealIP()),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request", fields...)
			case res.Status >= 400:
				l.Info("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
