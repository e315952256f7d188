package models

import (
	"time"

	"github.com/google/uuid"
)

// Message неизменяемо после записи. Seq назначается базой и задает
// порядок прибытия внутри комнаты.
type Message struct {
	Seq    uint64 `gorm:"primaryKey;autoIncrement"`
	RoomID string `gorm:"index;not null"`

	// Снимок отправителя на момент отправки: переименование профиля
	// не переписывает историю
	SenderID        uuid.UUID `gorm:"type:uuid;not null"`
	SenderName      string    `gorm:"not null"`
	SenderAvatarURL string

	Text   string    `gorm:"not null"`
	SentAt time.Time `gorm:"not null"`
}
