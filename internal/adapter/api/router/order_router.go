package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/handler"
	"agromarket/internal/adapter/api/middleware"
	"agromarket/internal/infrastructure/ratelimit"
)

func SetupOrderRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	orderHandler := handler.GetOrderHandler()

	orderGroup := e.Group("/v1/orders")
	orderGroup.Use(authMiddleware.Authenticate)
	orderGroup.POST("/:id/status-events", orderHandler.PostStatusEvent, middleware.RateLimit(limiter, ratelimit.ActionStatusChange))
}
