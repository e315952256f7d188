package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/membership"
	"github.com/rs/zerolog/log"
)

// Memberships реализуется membership.Manager
type Memberships interface {
	Join(ctx context.Context, roomID string, userID uuid.UUID) (membership.Result, error)
	Leave(ctx context.Context, roomID string, userID uuid.UUID) (membership.Result, error)
}

type sessionState struct {
	mu     sync.Mutex
	userID uuid.UUID
	// Комнаты, которые сессия сейчас держит. При singleRoom здесь не
	// больше одной.
	rooms map[string]bool
}

// Coordinator привязывает живую клиентскую сессию к членству и
// гарантирует освобождение всех комнат при любом завершении сессии.
type Coordinator struct {
	memberships Memberships

	// При singleRoom вход в новую комнату сначала выводит сессию из
	// текущей
	singleRoom bool

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

type Option func(*Coordinator)

// WithMultiRoom снимает ограничение «одна комната на сессию»: прежние
// комнаты при входе в новую не покидаются, но Disconnect освобождает
// их все
func WithMultiRoom() Option {
	return func(c *Coordinator) { c.singleRoom = false }
}

func NewCoordinator(m Memberships, opts ...Option) *Coordinator {
	c := &Coordinator{
		memberships: m,
		singleRoom:  true,
		sessions:    make(map[uuid.UUID]*sessionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnterRoom записывает комнату в состояние сессии только после
// подтвержденного входа: при любой неудаче набор комнат сессии не
// меняется.
func (c *Coordinator) EnterRoom(ctx context.Context, sessionID, userID uuid.UUID, roomID string) (membership.Result, error) {
	state := c.state(sessionID, userID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if c.singleRoom {
		for held := range state.rooms {
			if held == roomID {
				continue
			}
			res, err := c.memberships.Leave(ctx, held, userID)
			if err != nil {
				return res, err
			}
			delete(state.rooms, held)
		}
	}

	res, err := c.memberships.Join(ctx, roomID, userID)
	if err != nil {
		return res, err
	}
	if res == membership.Joined || res == membership.AlreadyMember {
		state.rooms[roomID] = true
	}
	return res, nil
}

// ExitRoom идемпотентен: неизвестная сессия, сессия вне комнаты и
// комната, которую сессия не держит, — тихий no-op. Пустой roomID
// означает выход из всех комнат сессии.
func (c *Coordinator) ExitRoom(ctx context.Context, sessionID uuid.UUID, roomID string) error {
	c.mu.Lock()
	state, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if roomID != "" {
		if !state.rooms[roomID] {
			return nil
		}
		if _, err := c.memberships.Leave(ctx, roomID, state.userID); err != nil {
			return err
		}
		delete(state.rooms, roomID)
		return nil
	}

	for held := range state.rooms {
		if _, err := c.memberships.Leave(ctx, held, state.userID); err != nil {
			return err
		}
		delete(state.rooms, held)
	}
	return nil
}

// Disconnect вызывается при любом завершении сессии — явный выход,
// уход со страницы, обрыв сети. Освобождаются все комнаты сессии,
// ровно один раз: повторный Disconnect уже не найдет сессию.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID uuid.UUID) {
	if err := c.ExitRoom(ctx, sessionID, ""); err != nil {
		log.Warn().Str("module", "session").Str("session", sessionID.String()).Err(err).Msg("cleanup leave failed")
	}

	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// SessionRooms возвращает комнаты, которые сессия держит сейчас;
// пустой срез для неизвестной сессии
func (c *Coordinator) SessionRooms(sessionID uuid.UUID) []string {
	c.mu.Lock()
	state, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	rooms := make([]string, 0, len(state.rooms))
	for held := range state.rooms {
		rooms = append(rooms, held)
	}
	return rooms
}

func (c *Coordinator) state(sessionID, userID uuid.UUID) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok {
		state = &sessionState{userID: userID, rooms: make(map[string]bool)}
		c.sessions[sessionID] = state
	}
	return state
}
