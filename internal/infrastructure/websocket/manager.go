package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agromarket/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Client represents a WebSocket connection client. A user may hold several
// connections, one per open tab.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
}

// Manager manages all active WebSocket connections
type Manager struct {
	clients map[string]*Client
	closed  bool
	mutex   sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
	}
}

// Start closes every connection once ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.mutex.Lock()
		defer m.mutex.Unlock()
		m.closed = true
		for id, client := range m.clients {
			delete(m.clients, id)
			close(client.Send)
		}
	}()
}

// Register adds client; frames can be queued for it as soon as it returns.
// It reports false once the manager has shut down.
func (m *Manager) Register(client *Client) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return false
	}
	m.clients[client.ID] = client
	logger.Info("Client registered: %s (user %s)", client.ID, client.UserID)
	return true
}

// Unregister removes client and closes its send buffer. It is safe to call
// more than once.
func (m *Manager) Unregister(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	delete(m.clients, client.ID)
	close(client.Send)
	logger.Info("Client unregistered: %s (user %s)", client.ID, client.UserID)
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Enqueue queues a frame for c unless the connection is gone or its buffer
// is full. It reports whether the frame was queued.
func (m *Manager) Enqueue(c *Client, message []byte) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.clients[c.ID]; !ok {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		logger.Warn("Client %s send buffer full, dropping frame", c.ID)
		return false
	}
}

// ReadPump reads frames from the connection and hands each to onMessage
// until the connection closes.
func (c *Client) ReadPump(m *Manager, onMessage func([]byte)) {
	defer func() {
		m.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error for %s: %v", c.ID, err)
			}
			return
		}
		onMessage(message)
	}
}

// WritePump sends queued frames to the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("websocket write error for %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
