package handler

import (
	"context"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/middleware"
	ws "agromarket/internal/infrastructure/websocket"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
	"agromarket/pkg/response"
)

type WebSocketHandler struct {
	wsManager *ws.Manager
	services  ws.Services
	locale    string
	// ctx outlives the upgrade request; sessions end with the server.
	ctx context.Context
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(ctx context.Context, wsManager *ws.Manager, services ws.Services, defaultLocale string) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		services:  services,
		locale:    defaultLocale,
		ctx:       ctx,
	}
}

// HandleWebSocket upgrades an authenticated request and runs a chat session
// on it. Query parameters: locale, tz.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	session := middleware.SessionFrom(c)
	if session.UID == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	locale := c.QueryParam("locale")
	if locale == "" {
		locale = h.locale
	}
	loc := time.Local
	if tz := c.QueryParam("tz"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("websocket: upgrade for %s failed: %v", session.UID, err)
		return nil
	}

	client := ws.NewClient(session.UID, conn)
	if !h.wsManager.Register(client) {
		conn.Close()
		return nil
	}

	chatSession := ws.NewSession(h.ctx, h.wsManager, client, session, h.services, locale, loc)
	logger.Debug("websocket: session %s opened for %s", client.ID, session.UID)

	go client.WritePump()
	go func() {
		defer chatSession.Close()
		client.ReadPump(h.wsManager, chatSession.HandleFrame)
	}()

	return nil
}
