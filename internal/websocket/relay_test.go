package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/chatlog"
	"github.com/levachev/communiverse/internal/models"
	"github.com/levachev/communiverse/internal/presence"
)

// flakySource отдает комнату после заданного числа сбоев
type flakySource struct {
	mu       sync.Mutex
	failures int
	room     *models.Room
}

func (s *flakySource) GetRoom(_ context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("store hiccup")
	}
	if s.room == nil || s.room.ID != id {
		return nil, errors.New("room not found")
	}
	return s.room, nil
}

type stubMessageStore struct {
	mu      sync.Mutex
	nextSeq uint64
}

func (s *stubMessageStore) AppendMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	message.Seq = s.nextSeq
	return nil
}

func (s *stubMessageStore) RoomMessages(context.Context, string, uint64, int) ([]models.Message, error) {
	return nil, nil
}

func (s *stubMessageStore) RoomExists(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubMessageStore) ArchiveRoomMessages(context.Context, string) (*models.ChatArchive, error) {
	return nil, nil
}

func waitFrame(t *testing.T, client *Client, want MessageType) Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case raw := <-client.Send:
			var frame Message
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if frame.Type == want {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %q frame within a second", want)
		}
	}
}

// Сбой подписки на ростер не должен оставлять комнату без хвоста чата
func TestRelayOpensChatTailDespitePresenceFailure(t *testing.T) {
	source := &flakySource{failures: 1000}
	broadcaster := presence.NewBroadcaster(source)
	chat := chatlog.NewService(&stubMessageStore{})

	hub := NewHub()
	hub.SetHooks(NewRelay(hub, broadcaster, chat))

	client := NewClient(hub, nil, uuid.New())
	hub.JoinRoom(client, "lobby")

	sender := chatlog.Sender{ID: uuid.New(), Name: "alice"}
	if _, err := chat.Append(context.Background(), "lobby", sender, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	frame := waitFrame(t, client, TypeMessage)
	var view MessageView
	if err := json.Unmarshal(frame.Data, &view); err != nil {
		t.Fatalf("bad message view: %v", err)
	}
	if view.Text != "hello" {
		t.Errorf("text = %q, want hello", view.Text)
	}
}

// Следующий вход в комнату добирает подписку на ростер, не поднятую с
// первого раза
func TestRelayRetriesPresenceOnNextJoin(t *testing.T) {
	member := uuid.New()
	source := &flakySource{
		failures: 1,
		room:     &models.Room{ID: "lobby", Name: "lobby", Capacity: 5, MemberIDs: models.MemberSet{member}, Version: 3},
	}
	broadcaster := presence.NewBroadcaster(source)
	chat := chatlog.NewService(&stubMessageStore{})

	hub := NewHub()
	hub.SetHooks(NewRelay(hub, broadcaster, chat))

	first := NewClient(hub, nil, uuid.New())
	hub.JoinRoom(first, "lobby") // подписка на ростер срывается

	second := NewClient(hub, nil, uuid.New())
	hub.JoinRoom(second, "lobby") // повторная попытка проходит

	frame := waitFrame(t, first, TypeRoster)
	var update presence.Update
	if err := json.Unmarshal(frame.Data, &update); err != nil {
		t.Fatalf("bad roster: %v", err)
	}
	if update.Version != 3 || update.Count != 1 {
		t.Errorf("roster = %+v, want version 3 with one member", update)
	}
}

// Register и Unregister после Stop возвращаются сразу, а не виснут на
// канале остановленного цикла
func TestHubRegisterAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()

	client := NewClient(hub, nil, uuid.New())

	done := make(chan struct{})
	go func() {
		hub.Register(client)
		hub.Unregister(client)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after hub stop")
	}
}
