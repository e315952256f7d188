package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	AvatarURL    string
	Bio          string
	// Выставляется пользователем вручную, к фактическому подключению не привязан
	IsOnline   bool `gorm:"default:false"`
	LastSeenAt time.Time
	CreatedAt  time.Time
}
