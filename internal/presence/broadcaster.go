package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/models"
	"github.com/rs/zerolog/log"
)

// Update — ростер комнаты после очередного изменения состава.
// Version совпадает с версией комнаты в хранилище, по ней подписка
// отфильтровывает устаревшие доставки.
type Update struct {
	RoomID  string      `json:"room_id"`
	Members []uuid.UUID `json:"members"`
	Count   int         `json:"count"`
	Version int64       `json:"version"`
}

// Observer возвращает ошибку, если доставить не удалось. После
// maxFailures подряд подписка снимается.
type Observer func(Update) error

// RosterSource нужен для мгновенного снапшота при подписке, когда
// в кеше вещателя комнаты еще не было. Реализуется database.Database.
type RosterSource interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
}

const (
	maxFailures = 3
	queueSize   = 16
)

type subscription struct {
	id       uuid.UUID
	roomID   string
	ch       chan Update
	done     chan struct{}
	once     sync.Once
	failures int
}

// Subscription отменяется вызывающим; после Cancel колбэков больше не
// будет, кроме уже отправленной в очередь доставки.
type Subscription struct {
	sub *subscription
	b   *Broadcaster
}

func (s *Subscription) Cancel() {
	s.b.remove(s.sub)
}

type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]map[uuid.UUID]*subscription
	latest map[string]Update
	source RosterSource
}

func NewBroadcaster(source RosterSource) *Broadcaster {
	return &Broadcaster{
		rooms:  make(map[string]map[uuid.UUID]*subscription),
		latest: make(map[string]Update),
		source: source,
	}
}

// Subscribe сразу шлет наблюдателю снапшот текущего ростера, затем по
// уведомлению на каждое изменение, в порядке коммитов.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID string, observer Observer) (*Subscription, error) {
	snapshot, err := b.snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:     uuid.New(),
		roomID: roomID,
		ch:     make(chan Update, queueSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[uuid.UUID]*subscription)
	}
	b.rooms[roomID][sub.id] = sub
	b.mu.Unlock()

	go b.deliver(sub, observer, snapshot)

	return &Subscription{sub: sub, b: b}, nil
}

// RoomChanged вызывается менеджером членства после каждого коммита.
// Медленный наблюдатель не задерживает ни запись, ни соседей: доставка
// асинхронная, каждому в свою очередь.
func (b *Broadcaster) RoomChanged(roomID string, members []uuid.UUID, version int64) {
	update := Update{RoomID: roomID, Members: members, Count: len(members), Version: version}

	b.mu.Lock()
	if last, ok := b.latest[roomID]; ok && last.Version >= version {
		// Запоздавшее уведомление, ростер уже новее
		b.mu.Unlock()
		return
	}
	b.latest[roomID] = update
	subs := make([]*subscription, 0, len(b.rooms[roomID]))
	for _, sub := range b.rooms[roomID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- update:
		default:
			// Очередь забита — наблюдатель безнадежно отстал
			log.Warn().Str("module", "presence").Str("room", roomID).Msg("subscriber queue full, dropping subscription")
			b.remove(sub)
		}
	}
}

func (b *Broadcaster) snapshot(ctx context.Context, roomID string) (Update, error) {
	b.mu.RLock()
	cached, ok := b.latest[roomID]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	room, err := b.source.GetRoom(ctx, roomID)
	if err != nil {
		return Update{}, err
	}
	return Update{
		RoomID:  roomID,
		Members: append([]uuid.UUID(nil), room.MemberIDs...),
		Count:   len(room.MemberIDs),
		Version: room.Version,
	}, nil
}

// deliver крутится в своей горутине на подписку: порядок на одну
// подписку гарантирован каналом, версии строго растут.
func (b *Broadcaster) deliver(sub *subscription, observer Observer, snapshot Update) {
	lastVersion := int64(-1)

	emit := func(u Update) {
		if u.Version <= lastVersion {
			return
		}
		lastVersion = u.Version
		if err := observer(u); err != nil {
			sub.failures++
			if sub.failures >= maxFailures {
				log.Warn().Str("module", "presence").Str("room", sub.roomID).Err(err).Msg("observer keeps failing, dropping subscription")
				b.remove(sub)
			}
			return
		}
		sub.failures = 0
	}

	emit(snapshot)

	for {
		select {
		case <-sub.done:
			return
		case u := <-sub.ch:
			select {
			case <-sub.done:
				return
			default:
			}
			emit(u)
		}
	}
}

func (b *Broadcaster) remove(sub *subscription) {
	b.mu.Lock()
	if subs, ok := b.rooms[sub.roomID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.rooms, sub.roomID)
		}
	}
	b.mu.Unlock()

	sub.once.Do(func() { close(sub.done) })
}

// SubscriberCount нужен хабу, чтобы вовремя сворачивать релеи
func (b *Broadcaster) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}
