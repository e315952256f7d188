package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/levachev/communiverse/internal/middleware"
	ws "github.com/levachev/communiverse/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: ограничить origin доменом фронтенда перед продом
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub        *ws.Hub
	msgHandler *WSMessageHandler
}

func NewWebSocketHandler(hub *ws.Hub, msgHandler *WSMessageHandler) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, msgHandler: msgHandler}
}

// HandleWebSocket апгрейдит соединение и запускает насосы клиента.
// ID клиента дальше живет как ID сессии в координаторе.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "ws").Err(err).Msg("upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.msgHandler)
}
