package middleware

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/infrastructure/ratelimit"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
	"agromarket/pkg/response"
)

// RateLimit limits action per authenticated user, or per client IP when the
// route is public.
func RateLimit(rl *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, _ := c.Get(ctxUID).(string)
			if key == "" {
				key = c.RealIP()
			}

			if ok, wait := rl.Allow(key, action); !ok {
				logger.Warn("RATE LIMIT: %s on %s blocked (retry in %v)", key, action, wait)
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", wait))
			}
			return next(c)
		}
	}
}
