package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemberSet хранится одной JSON-колонкой, меняется только через
// Database.CompareAndSwapMembers
type MemberSet []uuid.UUID

func (s MemberSet) Value() (driver.Value, error) {
	if s == nil {
		s = MemberSet{}
	}
	return json.Marshal(s)
}

func (s *MemberSet) Scan(src interface{}) error {
	if src == nil {
		*s = MemberSet{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported member set source type")
	}
}

func (s MemberSet) Contains(id uuid.UUID) bool {
	for _, m := range s {
		if m == id {
			return true
		}
	}
	return false
}

// With возвращает новый набор, исходный не трогает
func (s MemberSet) With(id uuid.UUID) MemberSet {
	out := make(MemberSet, 0, len(s)+1)
	out = append(out, s...)
	if !s.Contains(id) {
		out = append(out, id)
	}
	return out
}

func (s MemberSet) Without(id uuid.UUID) MemberSet {
	out := make(MemberSet, 0, len(s))
	for _, m := range s {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

type Room struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Description  string
	ImageURL     string
	Capacity     int       `gorm:"not null"`
	AdmissionFee int64     `gorm:"not null;default:0"`
	MemberIDs    MemberSet `gorm:"type:jsonb"`
	// Версия растет на единицу при каждой замене member_ids,
	// ключ оптимистичной блокировки
	Version   int64 `gorm:"not null;default:0"`
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

func (r *Room) IsFull() bool {
	return len(r.MemberIDs) >= r.Capacity
}
