package handler

import (
	"calcchat/backend/internal/chathub"
	"calcchat/backend/internal/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket.
// Ідентичність вже перевірена middleware RequireIdentity.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	id := identityFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade вже записав відповідь з помилкою
		logger.Warn("websocket upgrade failed", zap.String("identity", string(id)), zap.Error(err))
		return
	}

	// 1. Створення нового клієнта
	client := chathub.NewWebSocketClient(h.Hub, id, conn)

	// 2. Реєстрація клієнта в Chat Hub
	select {
	case h.Hub.RegisterCh <- client:
	case <-h.Hub.Done():
		_ = conn.Close()
		return
	}

	// 3. Запуск клієнта
	client.Run()
}
