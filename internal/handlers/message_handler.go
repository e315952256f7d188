package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/handlers/dto"
	"github.com/levachev/communiverse/internal/membership"
	"github.com/levachev/communiverse/internal/presence"
	"github.com/levachev/communiverse/internal/session"
	ws "github.com/levachev/communiverse/internal/websocket"
)

// WSMessageHandler разбирает прикладные кадры сокета: вход и выход из
// комнат и отправку сообщений. Состав комнаты меняет координатор
// сессий, hub только подписывает клиента на события.
type WSMessageHandler struct {
	db          *database.Database
	coordinator *session.Coordinator
	chat        *chatlog.Service
	singleRoom  bool
}

func NewWSMessageHandler(db *database.Database, coord *session.Coordinator, chat *chatlog.Service, singleRoom bool) *WSMessageHandler {
	return &WSMessageHandler{db: db, coordinator: coord, chat: chat, singleRoom: singleRoom}
}

func (h *WSMessageHandler) HandleMessage(client *ws.Client, msg *ws.Message) error {
	switch msg.Type {
	case ws.TypePing:
		return client.SendFrame(ws.TypePong, "", nil)
	case ws.TypeRoomEnter:
		return h.handleRoomEnter(client, msg)
	case ws.TypeRoomExit:
		return h.handleRoomExit(client, msg)
	case ws.TypeMessage:
		return h.handleChatMessage(client, msg)
	default:
		return fmt.Errorf("%w: unknown type %q", ws.ErrInvalidMessage, msg.Type)
	}
}

// handleRoomEnter вводит сессию в комнату. Платная комната по сокету
// не оплачивается: в нее сперва входят через HTTP, где списывается
// взнос.
func (h *WSMessageHandler) handleRoomEnter(client *ws.Client, msg *ws.Message) error {
	if msg.RoomID == "" {
		return ws.ErrInvalidMessage
	}

	ctx := context.Background()
	room, err := h.db.GetRoom(ctx, msg.RoomID)
	if err != nil {
		if errors.Is(err, database.ErrRoomNotFound) {
			return ws.ErrRoomNotFound
		}
		return err
	}

	if room.AdmissionFee > 0 && !room.MemberIDs.Contains(client.UserID) {
		return ws.ErrFeeRequired
	}

	result, err := h.coordinator.EnterRoom(ctx, client.ID, client.UserID, msg.RoomID)
	if err != nil {
		return err
	}

	switch result {
	case membership.Joined, membership.AlreadyMember:
	case membership.RoomFull:
		return errors.New("room is full")
	case membership.RoomNotFound:
		return ws.ErrRoomNotFound
	case membership.Contention:
		return errors.New("room is busy, try again")
	default:
		return fmt.Errorf("unexpected join result %s", result)
	}

	if h.singleRoom {
		for _, roomID := range client.RoomList() {
			if roomID != msg.RoomID {
				client.Hub.LeaveRoom(client, roomID)
			}
		}
	}

	client.Hub.JoinRoom(client, msg.RoomID)

	// Релей шлет снапшот только первому клиенту комнаты, остальным
	// ростер отдаем адресно
	fresh, err := h.db.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	return client.SendFrame(ws.TypeRoster, msg.RoomID, presence.Update{
		RoomID:  fresh.ID,
		Members: fresh.MemberIDs,
		Count:   len(fresh.MemberIDs),
		Version: fresh.Version,
	})
}

// handleRoomExit выводит из названной комнаты; пустой room_id — выход
// из всех комнат сессии. Членство и подписка на события комнаты
// снимаются парно.
func (h *WSMessageHandler) handleRoomExit(client *ws.Client, msg *ws.Message) error {
	if err := h.coordinator.ExitRoom(context.Background(), client.ID, msg.RoomID); err != nil {
		return err
	}

	if msg.RoomID != "" {
		client.Hub.LeaveRoom(client, msg.RoomID)
		return nil
	}
	for _, roomID := range client.RoomList() {
		client.Hub.LeaveRoom(client, roomID)
	}
	return nil
}

func (h *WSMessageHandler) handleChatMessage(client *ws.Client, msg *ws.Message) error {
	if msg.RoomID == "" {
		return ws.ErrInvalidMessage
	}
	if !client.IsInRoom(msg.RoomID) {
		return ws.ErrUserNotInRoom
	}

	var payload dto.MessagePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return ws.ErrInvalidMessage
	}

	ctx := context.Background()
	user, err := h.db.GetUser(ctx, client.UserID)
	if err != nil {
		return err
	}

	sender := chatlog.Sender{ID: user.ID, Name: user.Username, AvatarURL: user.AvatarURL}
	if _, err := h.chat.Append(ctx, msg.RoomID, sender, payload.Text); err != nil {
		return err
	}
	// Кадр клиентам уйдет через хвост чатлога, отдельной рассылки нет
	return nil
}
