package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ArchivedMessages []Message

func (a ArchivedMessages) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ArchivedMessages) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("unsupported archive source type")
	}
}

// ChatArchive — слепок истории комнаты, снятый внешней ночной джобой
type ChatArchive struct {
	ID         string `gorm:"primaryKey"`
	RoomID     string `gorm:"index;not null"`
	ArchivedAt time.Time
	Messages   ArchivedMessages `gorm:"type:jsonb"`
}
