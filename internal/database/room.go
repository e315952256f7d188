package database

import (
	"context"
	"errors"
	"strings"

	"github.com/levachev/communiverse/internal/models"
	"gorm.io/gorm"
)

func (d *Database) CreateRoom(ctx context.Context, room *models.Room) error {
	if strings.TrimSpace(room.Name) == "" || room.Capacity <= 0 || room.AdmissionFee < 0 {
		return ErrInvalidRoomSpec
	}
	if room.MemberIDs == nil {
		room.MemberIDs = models.MemberSet{}
	}
	return d.db.WithContext(ctx).Create(room).Error
}

func (d *Database) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := d.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := d.db.WithContext(ctx).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// CompareAndSwapMembers — единственный способ поменять состав комнаты.
// Запись проходит только если version в базе совпала с ожидаемой,
// иначе кто-то успел раньше и вызывающий обязан перечитать комнату.
func (d *Database) CompareAndSwapMembers(ctx context.Context, roomID string, expectedVersion int64, members models.MemberSet) error {
	res := d.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ? AND version = ?", roomID, expectedVersion).
		Updates(map[string]interface{}{
			"member_ids": members,
			"version":    expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Либо комнаты нет, либо версия ушла вперед
		var count int64
		if err := d.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRoomNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (d *Database) RoomExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (d *Database) DeleteRoom(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Message{}, "room_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Room{}, "id = ?", id).Error
	})
}
