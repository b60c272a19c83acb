package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ConnectionChecker is anything the health endpoint can probe.
type ConnectionChecker interface {
	TestConnection(ctx context.Context) error
}

type HealthHandler struct {
	auth    ConnectionChecker
	backend string
}

func NewHealthHandler(auth ConnectionChecker, backend string) *HealthHandler {
	return &HealthHandler{
		auth:    auth,
		backend: backend,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "Server is running",
		"backend": h.backend,
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (h *HealthHandler) CheckAuthHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.auth.TestConnection(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"status": "Auth provider connection failed",
			"error":  err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "Auth provider connected successfully",
	})
}
