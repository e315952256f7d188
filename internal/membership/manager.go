package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/models"
	"github.com/rs/zerolog/log"
)

// RoomStore — то, что менеджеру нужно от хранилища. Реализуется
// database.Database, в тестах — фейком в памяти.
type RoomStore interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CompareAndSwapMembers(ctx context.Context, roomID string, expectedVersion int64, members models.MemberSet) error
}

// Notifier получает состав комнаты после каждого закоммиченного
// изменения. Version монотонно растет вместе с изменениями.
type Notifier interface {
	RoomChanged(roomID string, members []uuid.UUID, version int64)
}

type Result int

const (
	Joined Result = iota
	AlreadyMember
	RoomFull
	RoomNotFound
	Contention
	Left
	NotMember
)

func (r Result) String() string {
	switch r {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	case RoomFull:
		return "room_full"
	case RoomNotFound:
		return "room_not_found"
	case Contention:
		return "contention"
	case Left:
		return "left"
	case NotMember:
		return "not_member"
	}
	return "unknown"
}

const defaultMaxRetries = 5

type Manager struct {
	store      RoomStore
	notifier   Notifier
	maxRetries int
}

func NewManager(store RoomStore, notifier Notifier) *Manager {
	return &Manager{store: store, notifier: notifier, maxRetries: defaultMaxRetries}
}

// Join идемпотентен: повторный вход дает AlreadyMember без ошибки.
// Гонки за последнее место разруливает CAS хранилища, проигравший
// перечитывает комнату и пробует снова, но не больше maxRetries раз.
func (m *Manager) Join(ctx context.Context, roomID string, userID uuid.UUID) (Result, error) {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				return RoomNotFound, nil
			}
			return RoomNotFound, err
		}

		if room.MemberIDs.Contains(userID) {
			return AlreadyMember, nil
		}
		if room.IsFull() {
			return RoomFull, nil
		}

		newMembers := room.MemberIDs.With(userID)
		err = m.store.CompareAndSwapMembers(ctx, roomID, room.Version, newMembers)
		if err == nil {
			m.notify(roomID, newMembers, room.Version+1)
			log.Debug().Str("module", "membership").Str("room", roomID).Str("user", userID.String()).Msg("join committed")
			return Joined, nil
		}
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, database.ErrRoomNotFound) {
			return RoomNotFound, nil
		}
		return Contention, err
	}

	log.Warn().Str("module", "membership").Str("room", roomID).Msg("join retry budget exhausted")
	return Contention, nil
}

// Leave тоже идемпотентен: выход не-участника и выход из несуществующей
// комнаты — тихий NotMember, под зачистку сессий после обрыва.
func (m *Manager) Leave(ctx context.Context, roomID string, userID uuid.UUID) (Result, error) {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				return NotMember, nil
			}
			return NotMember, err
		}

		if !room.MemberIDs.Contains(userID) {
			return NotMember, nil
		}

		newMembers := room.MemberIDs.Without(userID)
		err = m.store.CompareAndSwapMembers(ctx, roomID, room.Version, newMembers)
		if err == nil {
			m.notify(roomID, newMembers, room.Version+1)
			log.Debug().Str("module", "membership").Str("room", roomID).Str("user", userID.String()).Msg("leave committed")
			return Left, nil
		}
		if errors.Is(err, database.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, database.ErrRoomNotFound) {
			return NotMember, nil
		}
		return Contention, err
	}

	log.Warn().Str("module", "membership").Str("room", roomID).Msg("leave retry budget exhausted")
	return Contention, nil
}

func (m *Manager) notify(roomID string, members models.MemberSet, version int64) {
	if m.notifier == nil {
		return
	}
	m.notifier.RoomChanged(roomID, append([]uuid.UUID(nil), members...), version)
}
