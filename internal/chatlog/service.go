package chatlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/models"
	"github.com/rs/zerolog/log"
)

// MaxMessageLen — верхняя граница текста после обрезки пробелов, байт
const MaxMessageLen = 4000

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text is too long")
	ErrRoomNotFound   = errors.New("room not found")
)

// MessageStore реализуется database.Database
type MessageStore interface {
	AppendMessage(ctx context.Context, message *models.Message) error
	RoomMessages(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.Message, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
	ArchiveRoomMessages(ctx context.Context, roomID string) (*models.ChatArchive, error)
}

// Sender — снимок профиля на момент отправки
type Sender struct {
	ID        uuid.UUID
	Name      string
	AvatarURL string
}

type Service struct {
	store MessageStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	tails map[string]map[uuid.UUID]*tail
}

func NewService(store MessageStore) *Service {
	return &Service{
		store: store,
		locks: make(map[string]*sync.Mutex),
		tails: make(map[string]map[uuid.UUID]*tail),
	}
}

// Append валидирует текст, снимает слепок отправителя и пишет
// сообщение. Вставка и раздача хвостам идут под замком комнаты, чтобы
// порядок доставки совпадал с порядком seq.
func (s *Service) Append(ctx context.Context, roomID string, sender Sender, text string) (*models.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	if len(trimmed) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}

	exists, err := s.store.RoomExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	message := &models.Message{
		RoomID:          roomID,
		SenderID:        sender.ID,
		SenderName:      sender.Name,
		SenderAvatarURL: sender.AvatarURL,
		Text:            trimmed,
		SentAt:          time.Now(),
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return nil, err
	}

	s.fanout(roomID, *message)

	return message, nil
}

// ReadRange отдает историю по возрастанию seq. afterSeq == 0 и
// limit == 0 — полная история; хвосты истории не переигрывают,
// клиент сперва читает историю, потом подписывается.
func (s *Service) ReadRange(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.Message, error) {
	return s.store.RoomMessages(ctx, roomID, afterSeq, limit)
}

// ArchiveRoom — явный перенос живой истории в архив, планировщик
// внешний
func (s *Service) ArchiveRoom(ctx context.Context, roomID string) (*models.ChatArchive, error) {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	return s.store.ArchiveRoomMessages(ctx, roomID)
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	return lock
}

const (
	tailQueueSize   = 32
	tailMaxFailures = 3
)

// TailObserver получает каждое новое сообщение ровно один раз, в
// порядке добавления
type TailObserver func(models.Message) error

type tail struct {
	id     uuid.UUID
	roomID string
	ch     chan models.Message
	done   chan struct{}
	once   sync.Once
}

type Tail struct {
	t *tail
	s *Service
}

func (t *Tail) Cancel() {
	t.s.removeTail(t.t)
}

// SubscribeNew не переигрывает историю: доставляются только сообщения,
// добавленные после подписки.
func (s *Service) SubscribeNew(roomID string, observer TailObserver) *Tail {
	t := &tail{
		id:     uuid.New(),
		roomID: roomID,
		ch:     make(chan models.Message, tailQueueSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.tails[roomID] == nil {
		s.tails[roomID] = make(map[uuid.UUID]*tail)
	}
	s.tails[roomID][t.id] = t
	s.mu.Unlock()

	go s.drainTail(t, observer)

	return &Tail{t: t, s: s}
}

func (s *Service) fanout(roomID string, message models.Message) {
	s.mu.Lock()
	tails := make([]*tail, 0, len(s.tails[roomID]))
	for _, t := range s.tails[roomID] {
		tails = append(tails, t)
	}
	s.mu.Unlock()

	for _, t := range tails {
		select {
		case t.ch <- message:
		default:
			log.Warn().Str("module", "chatlog").Str("room", roomID).Msg("tail queue full, dropping subscription")
			s.removeTail(t)
		}
	}
}

func (s *Service) drainTail(t *tail, observer TailObserver) {
	failures := 0
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.ch:
			select {
			case <-t.done:
				return
			default:
			}
			if err := observer(msg); err != nil {
				failures++
				if failures >= tailMaxFailures {
					log.Warn().Str("module", "chatlog").Str("room", t.roomID).Err(err).Msg("tail observer keeps failing, dropping subscription")
					s.removeTail(t)
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Service) removeTail(t *tail) {
	s.mu.Lock()
	if tails, ok := s.tails[t.roomID]; ok {
		delete(tails, t.id)
		if len(tails) == 0 {
			delete(s.tails, t.roomID)
		}
	}
	s.mu.Unlock()

	t.once.Do(func() { close(t.done) })
}
