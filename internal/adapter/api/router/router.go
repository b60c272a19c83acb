package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/middleware"
	"agromarket/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware, limiter)
	SetupOrderRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, authMiddleware)
}
