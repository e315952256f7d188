package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/database"
	"github.com/levachev/communiverse/internal/models"
)

type fakeSource struct {
	rooms map[string]*models.Room
}

func (s *fakeSource) GetRoom(_ context.Context, id string) (*models.Room, error) {
	room, ok := s.rooms[id]
	if !ok {
		return nil, database.ErrRoomNotFound
	}
	return room, nil
}

func collector() (Observer, chan Update) {
	ch := make(chan Update, 32)
	return func(u Update) error {
		ch <- u
		return nil
	}, ch
}

func waitUpdate(t *testing.T, ch chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update within a second")
		return Update{}
	}
}

func expectSilence(t *testing.T, ch chan Update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	member := uuid.New()
	source := &fakeSource{rooms: map[string]*models.Room{
		"lobby": {ID: "lobby", Capacity: 5, MemberIDs: models.MemberSet{member}, Version: 7},
	}}
	b := NewBroadcaster(source)

	observer, ch := collector()
	sub, err := b.Subscribe(context.Background(), "lobby", observer)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	snapshot := waitUpdate(t, ch)
	if snapshot.Version != 7 || snapshot.Count != 1 || snapshot.Members[0] != member {
		t.Fatalf("bad snapshot: %+v", snapshot)
	}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	b := NewBroadcaster(&fakeSource{rooms: map[string]*models.Room{}})

	observer, _ := collector()
	if _, err := b.Subscribe(context.Background(), "ghost", observer); !errors.Is(err, database.ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestStaleVersionsFilteredOut(t *testing.T) {
	source := &fakeSource{rooms: map[string]*models.Room{
		"lobby": {ID: "lobby", Capacity: 5, MemberIDs: models.MemberSet{}, Version: 0},
	}}
	b := NewBroadcaster(source)

	observer, ch := collector()
	sub, err := b.Subscribe(context.Background(), "lobby", observer)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()
	waitUpdate(t, ch) // снапшот версии 0

	alice := uuid.New()
	bob := uuid.New()
	b.RoomChanged("lobby", []uuid.UUID{alice, bob}, 2)
	// Запоздавшее уведомление про более старый состав
	b.RoomChanged("lobby", []uuid.UUID{alice}, 1)

	u := waitUpdate(t, ch)
	if u.Version != 2 || u.Count != 2 {
		t.Fatalf("delivered %+v, want version 2 with both members", u)
	}
	expectSilence(t, ch)
}

func TestFailingObserverDropped(t *testing.T) {
	source := &fakeSource{rooms: map[string]*models.Room{
		"lobby": {ID: "lobby", Capacity: 5, MemberIDs: models.MemberSet{}, Version: 0},
	}}
	b := NewBroadcaster(source)

	calls := make(chan struct{}, 32)
	observer := func(Update) error {
		calls <- struct{}{}
		return errors.New("socket gone")
	}
	if _, err := b.Subscribe(context.Background(), "lobby", observer); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-calls // снапшот, первая неудача

	for v := int64(1); v <= 5; v++ {
		b.RoomChanged("lobby", []uuid.UUID{uuid.New()}, v)
	}

	deadline := time.After(time.Second)
	for b.SubscriberCount("lobby") > 0 {
		select {
		case <-deadline:
			t.Fatal("failing observer still subscribed")
		case <-calls:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	source := &fakeSource{rooms: map[string]*models.Room{
		"lobby": {ID: "lobby", Capacity: 5, MemberIDs: models.MemberSet{}, Version: 0},
	}}
	b := NewBroadcaster(source)

	observer, ch := collector()
	sub, err := b.Subscribe(context.Background(), "lobby", observer)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitUpdate(t, ch)

	sub.Cancel()
	if b.SubscriberCount("lobby") != 0 {
		t.Fatal("subscription survived cancel")
	}

	b.RoomChanged("lobby", []uuid.UUID{uuid.New()}, 1)
	expectSilence(t, ch)
}
