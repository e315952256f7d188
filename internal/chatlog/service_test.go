package chatlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/levachev/communiverse/internal/models"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	nextSeq  uint64
	rooms    map[string]bool
	messages map[string][]models.Message
}

func newFakeMessageStore(rooms ...string) *fakeMessageStore {
	s := &fakeMessageStore{
		rooms:    make(map[string]bool),
		messages: make(map[string][]models.Message),
	}
	for _, r := range rooms {
		s.rooms[r] = true
	}
	return s
}

func (s *fakeMessageStore) AppendMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	message.Seq = s.nextSeq
	s.messages[message.RoomID] = append(s.messages[message.RoomID], *message)
	return nil
}

func (s *fakeMessageStore) RoomMessages(_ context.Context, roomID string, afterSeq uint64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages[roomID] {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeMessageStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID], nil
}

func (s *fakeMessageStore) ArchiveRoomMessages(_ context.Context, roomID string) (*models.ChatArchive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	if len(msgs) == 0 {
		return nil, nil
	}
	delete(s.messages, roomID)
	return &models.ChatArchive{ID: "archive-" + roomID, RoomID: roomID, ArchivedAt: time.Now(), Messages: msgs}, nil
}

func testSender() Sender {
	return Sender{ID: uuid.New(), Name: "alice", AvatarURL: "http://example.com/a.png"}
}

func TestAppendValidation(t *testing.T) {
	s := NewService(newFakeMessageStore("lobby"))
	ctx := context.Background()
	sender := testSender()

	if _, err := s.Append(ctx, "lobby", sender, "   \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("whitespace text: want ErrEmptyMessage, got %v", err)
	}
	if _, err := s.Append(ctx, "lobby", sender, strings.Repeat("x", MaxMessageLen+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("oversized text: want ErrMessageTooLong, got %v", err)
	}
	// Ровно на границе — проходит
	if _, err := s.Append(ctx, "lobby", sender, strings.Repeat("x", MaxMessageLen)); err != nil {
		t.Errorf("max-length text rejected: %v", err)
	}
	if _, err := s.Append(ctx, "ghost", sender, "hello"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("unknown room: want ErrRoomNotFound, got %v", err)
	}
}

func TestAppendTrimsAndSnapshotsSender(t *testing.T) {
	s := NewService(newFakeMessageStore("lobby"))
	sender := testSender()

	msg, err := s.Append(context.Background(), "lobby", sender, "  hello world  ")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.Text != "hello world" {
		t.Errorf("text = %q, want trimmed", msg.Text)
	}
	if msg.SenderID != sender.ID || msg.SenderName != sender.Name || msg.SenderAvatarURL != sender.AvatarURL {
		t.Errorf("sender snapshot not captured: %+v", msg)
	}
	if msg.Seq == 0 {
		t.Errorf("seq not assigned")
	}
}

func TestTailDeliversOnlyNewMessagesInOrder(t *testing.T) {
	s := NewService(newFakeMessageStore("lobby"))
	ctx := context.Background()
	sender := testSender()

	// До подписки — не должно доехать
	if _, err := s.Append(ctx, "lobby", sender, "before"); err != nil {
		t.Fatalf("append: %v", err)
	}

	received := make(chan models.Message, 16)
	tail := s.SubscribeNew("lobby", func(m models.Message) error {
		received <- m
		return nil
	})
	defer tail.Cancel()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.Append(ctx, "lobby", sender, text); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
	}

	var lastSeq uint64
	for _, want := range []string{"one", "two", "three"} {
		select {
		case m := <-received:
			if m.Text != want {
				t.Fatalf("got %q, want %q", m.Text, want)
			}
			if m.Seq <= lastSeq {
				t.Fatalf("seq went backwards: %d after %d", m.Seq, lastSeq)
			}
			lastSeq = m.Seq
		case <-time.After(time.Second):
			t.Fatalf("message %q never delivered", want)
		}
	}

	select {
	case m := <-received:
		t.Fatalf("unexpected extra message %q", m.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTailCancelStopsDelivery(t *testing.T) {
	s := NewService(newFakeMessageStore("lobby"))
	ctx := context.Background()

	received := make(chan models.Message, 16)
	tail := s.SubscribeNew("lobby", func(m models.Message) error {
		received <- m
		return nil
	})
	tail.Cancel()

	if _, err := s.Append(ctx, "lobby", testSender(), "after cancel"); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case m := <-received:
		t.Fatalf("delivery after cancel: %q", m.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestArchiveRoomClearsLiveLog(t *testing.T) {
	store := newFakeMessageStore("lobby")
	s := NewService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "lobby", testSender(), "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	archive, err := s.ArchiveRoom(ctx, "lobby")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archive == nil || len(archive.Messages) != 3 {
		t.Fatalf("archive incomplete: %+v", archive)
	}

	left, err := s.ReadRange(ctx, "lobby", 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("live log still has %d messages", len(left))
	}
}
