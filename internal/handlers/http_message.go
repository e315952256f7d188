package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/handlers/dto"
	"github.com/levachev/communiverse/internal/middleware"
	ws "github.com/levachev/communiverse/internal/websocket"
)

const defaultHistoryLimit = 50

type MessageHandler struct {
	db   *database.Database
	chat *chatlog.Service
}

func NewMessageHandler(db *database.Database, chat *chatlog.Service) *MessageHandler {
	return &MessageHandler{db: db, chat: chat}
}

// GetMessages отдает историю комнаты по возрастанию seq.
// ?after= — курсор (seq последнего виденного), ?limit= — размер страницы.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("id")

	exists, err := h.db.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	afterSeq, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	messages, err := h.chat.ReadRange(c.Request.Context(), roomID, afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	views := make([]ws.MessageView, len(messages))
	for i := range messages {
		views[i] = ws.NewMessageView(messages[i])
	}

	c.JSON(http.StatusOK, gin.H{"messages": views, "count": len(views)})
}

// PostMessage публикует сообщение по HTTP; подписчики WebSocket
// получают его той же раздачей, что и сообщения из сокета
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	var req dto.MessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	sender := chatlog.Sender{ID: user.ID, Name: user.Username, AvatarURL: user.AvatarURL}
	message, err := h.chat.Append(c.Request.Context(), roomID, sender, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, chatlog.ErrEmptyMessage), errors.Is(err, chatlog.ErrMessageTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, chatlog.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, ws.NewMessageView(*message))
}
