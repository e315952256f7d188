package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/models"
	"github.com/levachev/communiverse/internal/presence"
	"github.com/rs/zerolog/log"
)

// MessageView — кадр сообщения в том виде, в котором он уходит клиентам
type MessageView struct {
	Seq             uint64    `json:"seq"`
	RoomID          string    `json:"room_id"`
	SenderID        uuid.UUID `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	SenderAvatarURL string    `json:"sender_avatar_url,omitempty"`
	Text            string    `json:"text"`
	SentAt          time.Time `json:"sent_at"`
}

func NewMessageView(m models.Message) MessageView {
	return MessageView{
		Seq:             m.Seq,
		RoomID:          m.RoomID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		SenderAvatarURL: m.SenderAvatarURL,
		Text:            m.Text,
		SentAt:          m.SentAt,
	}
}

type roomFeeds struct {
	presence *presence.Subscription
	tail     *chatlog.Tail
}

// Relay держит по одной подписке ядра на комнату и транслирует ростер
// и новые сообщения всем клиентам комнаты через hub. Подписка живет,
// пока в комнате есть хоть один подключенный клиент.
type Relay struct {
	hub         *Hub
	broadcaster *presence.Broadcaster
	chat        *chatlog.Service

	mu    sync.Mutex
	feeds map[string]*roomFeeds
}

func NewRelay(hub *Hub, broadcaster *presence.Broadcaster, chat *chatlog.Service) *Relay {
	return &Relay{
		hub:         hub,
		broadcaster: broadcaster,
		chat:        chat,
		feeds:       make(map[string]*roomFeeds),
	}
}

// RoomOpened поднимает фиды комнаты. Хвост чатлога открывается всегда;
// если подписка на ростер не удалась из-за временной ошибки хранилища,
// фид регистрируется без нее, и каждый следующий RoomOpened будет
// пробовать снова.
func (r *Relay) RoomOpened(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feeds, ok := r.feeds[roomID]
	if !ok {
		feeds = &roomFeeds{
			tail: r.chat.SubscribeNew(roomID, func(m models.Message) error {
				return r.push(TypeMessage, roomID, NewMessageView(m))
			}),
		}
		r.feeds[roomID] = feeds
		log.Debug().Str("module", "ws.relay").Str("room", roomID).Msg("room feeds opened")
	} else if feeds.presence != nil {
		return
	}

	sub, err := r.broadcaster.Subscribe(context.Background(), roomID, func(u presence.Update) error {
		return r.push(TypeRoster, roomID, u)
	})
	if err != nil {
		log.Warn().Str("module", "ws.relay").Str("room", roomID).Err(err).Msg("presence subscribe failed")
		return
	}
	feeds.presence = sub
}

func (r *Relay) RoomClosed(roomID string) {
	r.mu.Lock()
	feeds, ok := r.feeds[roomID]
	if ok {
		delete(r.feeds, roomID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if feeds.presence != nil {
		feeds.presence.Cancel()
	}
	feeds.tail.Cancel()
	log.Debug().Str("module", "ws.relay").Str("room", roomID).Msg("room feeds closed")
}

func (r *Relay) push(msgType MessageType, roomID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{
		Type:      msgType,
		RoomID:    roomID,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	r.hub.SendToRoom(roomID, frame)
	return nil
}
