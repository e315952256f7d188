package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/levachev/communiverse/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	// Именованная in-memory база: gorm держит пул соединений, и
	// безымянный :memory: дал бы каждому соединению свою базу
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDatabase(db)
}

func testRoom(t *testing.T, d *Database, capacity int) *models.Room {
	t.Helper()
	room := &models.Room{
		ID:        "room-" + uuid.NewString(),
		Name:      "test room",
		Capacity:  capacity,
		MemberIDs: models.MemberSet{},
		CreatedBy: uuid.New(),
		CreatedAt: time.Now(),
	}
	if err := d.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func TestCreateRoomValidation(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	cases := []struct {
		name string
		room models.Room
	}{
		{"empty name", models.Room{ID: "r1", Name: "   ", Capacity: 5}},
		{"zero capacity", models.Room{ID: "r2", Name: "ok", Capacity: 0}},
		{"negative capacity", models.Room{ID: "r3", Name: "ok", Capacity: -1}},
		{"negative fee", models.Room{ID: "r4", Name: "ok", Capacity: 5, AdmissionFee: -10}},
	}
	for _, tc := range cases {
		room := tc.room
		if err := d.CreateRoom(ctx, &room); !errors.Is(err, ErrInvalidRoomSpec) {
			t.Errorf("%s: want ErrInvalidRoomSpec, got %v", tc.name, err)
		}
	}
}

func TestGetRoomNotFound(t *testing.T) {
	d := setupTestDB(t)

	if _, err := d.GetRoom(context.Background(), "no-such-room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestCompareAndSwapMembers(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	room := testRoom(t, d, 5)
	user := uuid.New()

	if err := d.CompareAndSwapMembers(ctx, room.ID, 0, models.MemberSet{user}); err != nil {
		t.Fatalf("cas: %v", err)
	}

	got, err := d.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if !got.MemberIDs.Contains(user) {
		t.Errorf("member set does not contain the user")
	}
}

func TestCompareAndSwapStaleVersion(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	room := testRoom(t, d, 5)

	if err := d.CompareAndSwapMembers(ctx, room.ID, 0, models.MemberSet{uuid.New()}); err != nil {
		t.Fatalf("first cas: %v", err)
	}

	// Версия уже 1, запись с ожидаемой 0 должна отскочить
	err := d.CompareAndSwapMembers(ctx, room.ID, 0, models.MemberSet{uuid.New()})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}

	got, _ := d.GetRoom(ctx, room.ID)
	if got.Version != 1 {
		t.Errorf("version moved to %d after rejected cas", got.Version)
	}
}

func TestCompareAndSwapMissingRoom(t *testing.T) {
	d := setupTestDB(t)

	err := d.CompareAndSwapMembers(context.Background(), "ghost", 0, models.MemberSet{})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestRoomMessagesOrderAndCursor(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	room := testRoom(t, d, 5)
	sender := uuid.New()

	for i := 0; i < 5; i++ {
		msg := &models.Message{
			RoomID:     room.ID,
			SenderID:   sender,
			SenderName: "alice",
			Text:       fmt.Sprintf("msg-%d", i),
			SentAt:     time.Now(),
		}
		if err := d.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := d.RoomMessages(ctx, room.ID, 0, 0)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d messages, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatalf("seq not increasing: %d after %d", all[i].Seq, all[i-1].Seq)
		}
	}

	page, err := d.RoomMessages(ctx, room.ID, all[1].Seq, 2)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	if page[0].Seq != all[2].Seq || page[1].Seq != all[3].Seq {
		t.Errorf("cursor page returned wrong range: %d,%d", page[0].Seq, page[1].Seq)
	}
}

func TestArchiveRoomMessages(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	room := testRoom(t, d, 5)

	for i := 0; i < 3; i++ {
		msg := &models.Message{RoomID: room.ID, SenderID: uuid.New(), SenderName: "bob", Text: "hi", SentAt: time.Now()}
		if err := d.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	archive, err := d.ArchiveRoomMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archive == nil || len(archive.Messages) != 3 {
		t.Fatalf("archive did not capture the history: %+v", archive)
	}

	left, err := d.RoomMessages(ctx, room.ID, 0, 0)
	if err != nil {
		t.Fatalf("read after archive: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("live log still has %d messages after archive", len(left))
	}

	// Пустую комнату архивировать можно, архива не будет
	again, err := d.ArchiveRoomMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("archive empty: %v", err)
	}
	if again != nil {
		t.Errorf("empty room produced an archive")
	}
}

func TestWalletDebitCredit(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	user := uuid.New()

	if err := d.EnsureWallet(ctx, user, 100); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	// Повторный EnsureWallet баланс не перетирает
	if err := d.EnsureWallet(ctx, user, 999); err != nil {
		t.Fatalf("ensure wallet twice: %v", err)
	}
	if balance, _ := d.GetBalance(ctx, user); balance != 100 {
		t.Fatalf("balance = %d, want 100", balance)
	}

	if err := d.Debit(ctx, user, 70); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := d.Debit(ctx, user, 70); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if balance, _ := d.GetBalance(ctx, user); balance != 30 {
		t.Fatalf("balance = %d, want 30", balance)
	}

	if err := d.Credit(ctx, user, 20); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance, _ := d.GetBalance(ctx, user); balance != 50 {
		t.Fatalf("balance = %d, want 50", balance)
	}
}

func TestWalletTransfer(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	if err := d.EnsureWallet(ctx, alice, 100); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	// Кошелек получателя заводится по ходу перевода
	if err := d.Transfer(ctx, alice, bob, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if balance, _ := d.GetBalance(ctx, alice); balance != 60 {
		t.Errorf("sender balance = %d, want 60", balance)
	}
	if balance, _ := d.GetBalance(ctx, bob); balance != 40 {
		t.Errorf("receiver balance = %d, want 40", balance)
	}

	// Нехватка монет не трогает ни один из кошельков
	if err := d.Transfer(ctx, alice, bob, 1000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if balance, _ := d.GetBalance(ctx, alice); balance != 60 {
		t.Errorf("sender balance changed by failed transfer: %d", balance)
	}
	if balance, _ := d.GetBalance(ctx, bob); balance != 40 {
		t.Errorf("receiver balance changed by failed transfer: %d", balance)
	}
}
