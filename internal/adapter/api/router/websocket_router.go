package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/handler"
	"agromarket/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up WebSocket routes. Browsers cannot set headers
// on the upgrade, so the token may come in the query string.
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", handler.GetWebSocketHandler().HandleWebSocket, authMiddleware.Authenticate)
}
