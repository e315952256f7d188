package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/models"
	"github.com/rs/zerolog/log"
)

type ActionStore interface {
	SaveAction(ctx context.Context, action *models.UserAction) error
}

// Recorder пишет социальные действия fire-and-forget: ошибка записи
// попадает в лог и никогда не влияет на результат операции.
type Recorder struct {
	store ActionStore
}

func NewRecorder(store ActionStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) GiftSent(gifterID, receiverID uuid.UUID, roomID string) {
	r.record(&models.UserAction{
		ActionType: models.ActionGiftSent,
		ActorID:    gifterID,
		TargetID:   &receiverID,
		RoomID:     roomID,
	})
}

func (r *Recorder) UserFollowed(followerID, followedID uuid.UUID) {
	r.record(&models.UserAction{
		ActionType: models.ActionUserFollowed,
		ActorID:    followerID,
		TargetID:   &followedID,
	})
}

func (r *Recorder) UserLeftRoom(userID uuid.UUID, roomID string) {
	r.record(&models.UserAction{
		ActionType: models.ActionUserLeftRoom,
		ActorID:    userID,
		RoomID:     roomID,
	})
}

func (r *Recorder) record(action *models.UserAction) {
	action.ID = uuid.New()
	action.CreatedAt = time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.SaveAction(ctx, action); err != nil {
			log.Warn().Str("module", "telemetry").Str("action", action.ActionType).Err(err).Msg("action not recorded")
		}
	}()
}
