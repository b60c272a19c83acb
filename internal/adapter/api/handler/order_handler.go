package handler

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/domain/entity"
	"agromarket/internal/usecase"
	"agromarket/pkg/response"
)

type OrderHandler struct {
	notifier *usecase.OrderNotificationUseCase
}

func NewOrderHandler(notifier *usecase.OrderNotificationUseCase) *OrderHandler {
	return &OrderHandler{
		notifier: notifier,
	}
}

// PostStatusEvent accepts a status transition reported by the order flow
// and queues the buyer's email. It answers before the email is sent.
func (h *OrderHandler) PostStatusEvent(c echo.Context) error {
	var change entity.OrderStatusChange
	if err := c.Bind(&change); err != nil {
		return response.Error(c, err)
	}
	change.OrderID = c.Param("id")

	if err := h.notifier.NotifyStatusChange(c.Request().Context(), change); err != nil {
		return response.Error(c, err)
	}

	return response.Accepted(c, map[string]string{
		"order_id": change.OrderID,
		"status":   "queued",
	})
}
