package presence

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "presence:room_updates"

// roomUpdatePayload гоняется через Redis Pub/Sub, чтобы ростер
// разъезжался по всем инстансам сервера
type roomUpdatePayload struct {
	Update
	OriginInstanceID string `json:"origin_instance_id"`
}

// Bridge публикует локальные изменения состава в Redis и вливает чужие
// обратно в локальный вещатель. Свои же публикации отбрасывает по
// instanceID, локально они уже доставлены.
type Bridge struct {
	rdb        *redis.Client
	local      *Broadcaster
	channel    string
	instanceID string
}

func NewBridge(rdb *redis.Client, local *Broadcaster, instanceID string) *Bridge {
	return &Bridge{
		rdb:        rdb,
		local:      local,
		channel:    DefaultChannel,
		instanceID: instanceID,
	}
}

func (b *Bridge) Publish(ctx context.Context, update Update) {
	payload := roomUpdatePayload{Update: update, OriginInstanceID: b.instanceID}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Str("module", "presence.bridge").Err(err).Msg("marshal room update")
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		log.Warn().Str("module", "presence.bridge").Err(err).Msg("publish room update")
	}
}

// Run блокируется до отмены контекста
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload roomUpdatePayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Warn().Str("module", "presence.bridge").Err(err).Msg("bad room update payload")
				continue
			}
			if payload.OriginInstanceID == b.instanceID {
				continue
			}
			b.local.RoomChanged(payload.RoomID, payload.Members, payload.Version)
		}
	}
}
