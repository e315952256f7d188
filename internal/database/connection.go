package database

import (
	"errors"

	"github.com/levachev/communiverse/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func (d *Database) Connect(dsn string) error {
	if dsn == "" {
		return errors.New("database DSN is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}

	if err := Migrate(db); err != nil {
		return err
	}

	d.db = db

	return nil
}

// Migrate вынесен отдельно, чтобы тесты могли гонять схему на sqlite
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Message{},
		&models.ChatArchive{},
		&models.UserAction{},
		&models.Wallet{},
	)
}
