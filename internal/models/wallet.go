package models

import (
	"time"

	"github.com/google/uuid"
)

type Wallet struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time
}
