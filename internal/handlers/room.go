package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/handlers/dto"
	"github.com/levachev/communiverse/internal/membership"
	"github.com/levachev/communiverse/internal/middleware"
	"github.com/levachev/communiverse/internal/models"
	"github.com/levachev/communiverse/internal/telemetry"
)

const defaultRoomImage = "https://placehold.co/600x400.png"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

type RoomHandler struct {
	db         *database.Database
	membership *membership.Manager
	chat       *chatlog.Service
	telemetry  *telemetry.Recorder
}

func NewRoomHandler(db *database.Database, m *membership.Manager, chat *chatlog.Service, rec *telemetry.Recorder) *RoomHandler {
	return &RoomHandler{db: db, membership: m, chat: chat, telemetry: rec}
}

// CreateRoom создает новую комнату; id — слаг имени с уникальным хвостом
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)

	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imageURL := req.ImageURL
	if imageURL == "" {
		imageURL = defaultRoomImage
	}

	room := &models.Room{
		ID:           roomSlug(req.Name),
		Name:         req.Name,
		Description:  req.Description,
		ImageURL:     imageURL,
		Capacity:     req.Capacity,
		AdmissionFee: req.AdmissionFee,
		MemberIDs:    models.MemberSet{},
		CreatedBy:    userID,
		CreatedAt:    time.Now(),
	}

	if err := h.db.CreateRoom(c.Request.Context(), room); err != nil {
		if errors.Is(err, database.ErrInvalidRoomSpec) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room spec"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, formatRoomResponse(room))
}

// ListRooms возвращает все комнаты с текущим числом участников
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.db.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}

	response := make([]gin.H, len(rooms))
	for i := range rooms {
		response[i] = formatRoomResponse(&rooms[i])
	}

	c.JSON(http.StatusOK, gin.H{"rooms": response})
}

// GetRoom возвращает информацию о конкретной комнате
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.db.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}

	c.JSON(http.StatusOK, formatRoomResponse(room))
}

// JoinRoom вводит пользователя в комнату. Для платной комнаты монеты
// списываются до входа; если место тем временем кончилось, списание
// возвращается.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")
	ctx := c.Request.Context()

	room, err := h.db.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}

	charged := false
	if room.AdmissionFee > 0 && !room.MemberIDs.Contains(userID) {
		if err := h.db.Debit(ctx, userID, room.AdmissionFee); err != nil {
			if errors.Is(err, database.ErrInsufficientFunds) {
				c.JSON(http.StatusPaymentRequired, gin.H{"error": "not enough coins"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to charge admission fee"})
			return
		}
		charged = true
	}

	result, err := h.membership.Join(ctx, roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}

	if charged && result != membership.Joined {
		// Вход не состоялся — возвращаем списанное
		if err := h.db.Credit(ctx, userID, room.AdmissionFee); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refund admission fee"})
			return
		}
	}

	switch result {
	case membership.Joined, membership.AlreadyMember:
		c.JSON(http.StatusOK, gin.H{"status": result.String()})
	case membership.RoomFull:
		c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
	case membership.RoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case membership.Contention:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room is busy, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected join result"})
	}
}

// LeaveRoom выводит пользователя из комнаты; выход не-участника — не
// ошибка
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	result, err := h.membership.Leave(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave room"})
		return
	}

	if result == membership.Left {
		h.telemetry.UserLeftRoom(userID, roomID)
	}

	c.JSON(http.StatusOK, gin.H{"status": result.String()})
}

// GetRoomMembers возвращает участников комнаты с профилями
func (h *RoomHandler) GetRoomMembers(c *gin.Context) {
	ctx := c.Request.Context()

	room, err := h.db.GetRoom(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}

	users, err := h.db.GetUsersByIDs(ctx, room.MemberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get members"})
		return
	}

	members := make([]gin.H, len(users))
	for i, user := range users {
		members[i] = gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"avatar_url": user.AvatarURL,
			"is_online":  user.IsOnline,
		}
	}

	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

// ArchiveRoom переносит историю комнаты в архив; зовется внешним
// планировщиком
func (h *RoomHandler) ArchiveRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	room, err := h.db.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}

	if room.CreatedBy != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only room creator can archive"})
		return
	}

	archive, err := h.chat.ArchiveRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive room"})
		return
	}
	if archive == nil {
		c.JSON(http.StatusOK, gin.H{"message": "nothing to archive"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"archive_id":  archive.ID,
		"archived_at": archive.ArchivedAt,
		"messages":    len(archive.Messages),
	})
}

// GetArchive отдает сохраненный срез истории по его id
func (h *RoomHandler) GetArchive(c *gin.Context) {
	archive, err := h.db.GetArchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          archive.ID,
		"room_id":     archive.RoomID,
		"archived_at": archive.ArchivedAt,
		"messages":    archive.Messages,
	})
}

// DeleteRoom сносит комнату вместе с живой историей; доступно только
// создателю
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID := c.MustGet(middleware.UserIDKey).(uuid.UUID)
	roomID := c.Param("id")

	room, err := h.db.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}

	if room.CreatedBy != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only room creator can delete"})
		return
	}

	if err := h.db.DeleteRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		return
	}

	c.Status(http.StatusNoContent)
}

func roomSlug(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "room"
	}
	return fmt.Sprintf("%s-%s", slug, strconv.FormatInt(time.Now().UnixMilli(), 36))
}

func formatRoomResponse(room *models.Room) gin.H {
	return gin.H{
		"id":            room.ID,
		"name":          room.Name,
		"description":   room.Description,
		"image_url":     room.ImageURL,
		"capacity":      room.Capacity,
		"admission_fee": room.AdmissionFee,
		"user_count":    len(room.MemberIDs),
		"member_ids":    room.MemberIDs,
		"created_by":    room.CreatedBy,
		"created_at":    room.CreatedAt,
	}
}
