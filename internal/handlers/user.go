package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/handlers/dto"
	"github.com/levachev/communiverse/internal/middleware"
	"github.com/levachev/communiverse/internal/models"
	"github.com/levachev/communiverse/internal/telemetry"
	ws "github.com/levachev/communiverse/internal/websocket"
)

type UserHandler struct {
	db        *database.Database
	telemetry *telemetry.Recorder
	hub       *ws.Hub
}

func NewUserHandler(db *database.Database, rec *telemetry.Recorder, hub *ws.Hub) *UserHandler {
	return &UserHandler{db: db, telemetry: rec, hub: hub}
}

func (h *UserHandler) GetMe(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	balance, err := h.db.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	resp := formatUserResponse(user)
	resp["email"] = user.Email
	resp["balance"] = balance
	c.JSON(http.StatusOK, resp)
}

// UpdateMe правит профиль: аватар и био
func (h *UserHandler) UpdateMe(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	// Смена имени не переписывает историю чата: там лежит снимок
	// отправителя
	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}

	if err := h.db.UpdateUser(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, formatUserResponse(user))
}

// SetStatus переключает ручной онлайн-статус
func (h *UserHandler) SetStatus(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetOnlineStatus(c.Request.Context(), userID, *req.IsOnline); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"is_online": *req.IsOnline})
}

func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, formatUserResponse(user))
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.db.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	response := make([]gin.H, len(users))
	for i := range users {
		response[i] = formatUserResponse(&users[i])
	}

	c.JSON(http.StatusOK, gin.H{"users": response})
}

func (h *UserHandler) Follow(c *gin.Context) {
	followerID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	followedID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if followedID == followerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot follow yourself"})
		return
	}

	if _, err := h.db.GetUser(c.Request.Context(), followedID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	h.telemetry.UserFollowed(followerID, followedID)
	c.JSON(http.StatusOK, gin.H{"message": "followed"})
}

// GiftCoins переводит монеты другому пользователю одной транзакцией;
// перевод самому себе запрещён.
func (h *UserHandler) GiftCoins(c *gin.Context) {
	gifterID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	receiverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if receiverID == gifterID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot gift yourself"})
		return
	}

	var req dto.GiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.db.GetUser(ctx, receiverID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := h.db.Transfer(ctx, gifterID, receiverID, req.Amount); err != nil {
		if errors.Is(err, database.ErrInsufficientFunds) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "not enough coins"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send gift"})
		return
	}

	h.telemetry.GiftSent(gifterID, receiverID, req.RoomID)
	h.notifyGift(gifterID, receiverID, req.Amount, req.RoomID)
	c.JSON(http.StatusOK, gin.H{"message": "gift sent", "amount": req.Amount})
}

func (h *UserHandler) GetWallet(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	balance, err := h.db.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// notifyGift пушит получателю кадр на все его живые соединения;
// офлайн-получатель узнает о подарке из баланса
func (h *UserHandler) notifyGift(gifterID, receiverID uuid.UUID, amount int64, roomID string) {
	data, err := json.Marshal(gin.H{"from": gifterID, "amount": amount, "room_id": roomID})
	if err != nil {
		return
	}
	frame, err := json.Marshal(ws.Message{Type: ws.TypeGift, Data: data, Timestamp: time.Now()})
	if err != nil {
		return
	}
	h.hub.SendToUser(receiverID, frame)
}

func formatUserResponse(user *models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"avatar_url":   user.AvatarURL,
		"bio":          user.Bio,
		"is_online":    user.IsOnline,
		"last_seen_at": user.LastSeenAt,
	}
}
