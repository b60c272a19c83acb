package handler

var (
	chatHandler      *ChatHandler
	orderHandler     *OrderHandler
	healthHandler    *HealthHandler
	webSocketHandler *WebSocketHandler
)

func Setup(
	chat *ChatHandler,
	order *OrderHandler,
	health *HealthHandler,
	webSocket *WebSocketHandler,
) {
	chatHandler = chat
	orderHandler = order
	healthHandler = health
	webSocketHandler = webSocket
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetOrderHandler() *OrderHandler {
	return orderHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
