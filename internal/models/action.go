package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionGiftSent     = "gift_sent"
	ActionUserFollowed = "user_followed"
	ActionUserLeftRoom = "user_left_room"
)

// UserAction — телеметрия социальных действий, пишется fire-and-forget
type UserAction struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ActionType string     `gorm:"index;not null"`
	ActorID    uuid.UUID  `gorm:"type:uuid;not null"`
	TargetID   *uuid.UUID `gorm:"type:uuid"`
	RoomID     string
	CreatedAt  time.Time
}
