package database

import (
	"context"
	"fmt"
	"time"

	"github.com/levachev/communiverse/internal/models"
	"gorm.io/gorm"
)

func (d *Database) AppendMessage(ctx context.Context, message *models.Message) error {
	return d.db.WithContext(ctx).Create(message).Error
}

// RoomMessages отдает сообщения по возрастанию seq. afterSeq == 0 и
// limit == 0 означают полную историю.
func (d *Database) RoomMessages(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.Message, error) {
	var messages []models.Message

	query := d.db.WithContext(ctx).Where("room_id = ?", roomID)
	if afterSeq > 0 {
		query = query.Where("seq > ?", afterSeq)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Order("seq ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ArchiveRoomMessages переносит текущую историю комнаты в архив и
// чистит живой лог одной транзакцией. Пустая комната — не ошибка,
// просто nil-архив.
func (d *Database) ArchiveRoomMessages(ctx context.Context, roomID string) (*models.ChatArchive, error) {
	var archive *models.ChatArchive

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messages []models.Message
		if err := tx.Where("room_id = ?", roomID).Order("seq ASC").Find(&messages).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		archive = &models.ChatArchive{
			ID:         fmt.Sprintf("archive-%s-%d", roomID, time.Now().UnixMilli()),
			RoomID:     roomID,
			ArchivedAt: time.Now(),
			Messages:   messages,
		}
		if err := tx.Create(archive).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Message{}, "room_id = ?", roomID).Error
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

func (d *Database) GetArchive(ctx context.Context, id string) (*models.ChatArchive, error) {
	var archive models.ChatArchive
	if err := d.db.WithContext(ctx).First(&archive, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &archive, nil
}
