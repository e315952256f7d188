package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MessageType определяет типы кадров
type MessageType string

const (
	// Системные
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"

	// Чат
	TypeMessage MessageType = "message"

	// Социальное
	TypeGift MessageType = "gift"

	// Комнаты
	TypeRoomEnter MessageType = "room_enter"
	TypeRoomExit  MessageType = "room_exit"
	TypeRoster    MessageType = "roster"
)

type Message struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RoomHooks дергаются на каждом входе клиента в комнату и при уходе
// последнего. На них висит релей подписок ядра; RoomOpened обязан быть
// идемпотентным.
type RoomHooks interface {
	RoomOpened(roomID string)
	RoomClosed(roomID string)
}

// DisconnectFunc отвязывает сессию от членства при любом обрыве
type DisconnectFunc func(ctx context.Context, sessionID uuid.UUID)

type Hub struct {
	clients map[uuid.UUID]*Client

	// Один пользователь может держать несколько соединений
	userClients map[uuid.UUID]map[uuid.UUID]*Client

	// Клиенты, получающие события комнаты
	rooms map[string]map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client

	hooks        RoomHooks
	onDisconnect DisconnectFunc

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:       make(map[string]map[uuid.UUID]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetHooks вызывается один раз при сборке сервера, до Run
func (h *Hub) SetHooks(hooks RoomHooks) {
	h.hooks = hooks
}

func (h *Hub) SetDisconnectFunc(fn DisconnectFunc) {
	h.onDisconnect = fn
}

// Run запускает hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// Stop останавливает hub и закрывает все соединения
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		client.Conn.Close()
	}
}

// Register и Unregister не блокируются после Stop: цикл Run уже
// вышел, и насосы клиентов не должны зависнуть на канале
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if _, ok := h.userClients[client.UserID]; !ok {
		h.userClients[client.UserID] = make(map[uuid.UUID]*Client)
	}
	h.userClients[client.UserID][client.ID] = client

	log.Info().Str("module", "ws.hub").Str("client", client.ID.String()).Str("user", client.UserID.String()).Msg("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()

	closedRooms := make([]string, 0, 1)
	if _, ok := h.clients[client.ID]; ok {
		for roomID := range client.Rooms {
			if h.removeFromRoomUnsafe(client, roomID) {
				closedRooms = append(closedRooms, roomID)
			}
		}

		if userClients, ok := h.userClients[client.UserID]; ok {
			delete(userClients, client.ID)
			if len(userClients) == 0 {
				delete(h.userClients, client.UserID)
			}
		}

		delete(h.clients, client.ID)
		close(client.Send)

		log.Info().Str("module", "ws.hub").Str("client", client.ID.String()).Msg("client unregistered")
	}
	h.mu.Unlock()

	for _, roomID := range closedRooms {
		if h.hooks != nil {
			h.hooks.RoomClosed(roomID)
		}
	}

	// Обрыв соединения равен выходу из комнаты: членство чистит
	// координатор сессий
	if h.onDisconnect != nil {
		h.onDisconnect(context.Background(), client.ID)
	}
}

// JoinRoom подключает клиента к событиям комнаты. Сам состав комнаты
// здесь не трогается, это дело ядра. RoomOpened идемпотентен и зовется
// на каждом входе: так релей добирает подписку, не поднятую с первого
// раза.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client
	h.mu.Unlock()

	client.mu.Lock()
	client.Rooms[roomID] = true
	client.mu.Unlock()

	if h.hooks != nil {
		h.hooks.RoomOpened(roomID)
	}
}

// LeaveRoom отключает клиента от событий комнаты
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	closed := h.removeFromRoomUnsafe(client, roomID)
	h.mu.Unlock()

	if closed && h.hooks != nil {
		h.hooks.RoomClosed(roomID)
	}
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID string) bool {
	room, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room[client.ID]; !ok {
		return false
	}

	delete(room, client.ID)
	client.mu.Lock()
	delete(client.Rooms, roomID)
	client.mu.Unlock()

	if len(room) == 0 {
		delete(h.rooms, roomID)
		return true
	}
	return false
}

// SendToRoom рассылает кадр всем клиентам комнаты
func (h *Hub) SendToRoom(roomID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[roomID] {
		select {
		case client.Send <- message:
		default:
			log.Warn().Str("module", "ws.hub").Str("client", client.ID.String()).Msg("send channel full")
		}
	}
}

// SendToUser рассылает кадр всем соединениям пользователя
func (h *Hub) SendToUser(userID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.userClients[userID] {
		select {
		case client.Send <- message:
		default:
			log.Warn().Str("module", "ws.hub").Str("client", client.ID.String()).Msg("send channel full")
		}
	}
}
