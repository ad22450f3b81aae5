package chathub

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	ID       string
	Identity models.Identity
	Conn     *websocket.Conn
	Hub      *ManagerService
	Send     chan models.ViewEvent

	closeOnce sync.Once
}

func NewWebSocketClient(hub *ManagerService, id models.Identity, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		ID:       uuid.NewString(),
		Identity: id,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan models.ViewEvent, 256),
	}
}

func (c *WebSocketClient) GetIdentity() models.Identity            { return c.Identity }
func (c *WebSocketClient) GetClientID() string                     { return c.ID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ViewEvent { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump turns inbound frames into hub commands.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", zap.String("client", c.ID), zap.Error(err))
			}
			break
		}

		var cmd models.ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			logger.Warn("bad client frame", zap.String("client", c.ID), zap.Error(err))
			continue
		}
		cmd.Identity = c.Identity

		select {
		case c.Hub.CommandCh <- cmd:
		case <-c.Hub.Done():
			return
		}
	}
}

// writePump пише події з каналу Send у WebSocket і підтримує ping.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				logger.Warn("websocket write failed", zap.String("client", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
