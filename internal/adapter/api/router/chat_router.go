package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/handler"
	"agromarket/internal/adapter/api/middleware"
	"agromarket/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.GET("", chatHandler.GetUserChats)
	chatGroup.GET("/resolve", chatHandler.ResolveChat)
	chatGroup.POST("/open", chatHandler.OpenChat, middleware.RateLimit(limiter, ratelimit.ActionOpenChat))
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead)

	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages)
	chatGroup.POST("/:id/messages", chatHandler.SendMessage, middleware.RateLimit(limiter, ratelimit.ActionSendMessage))
}
