package database

import (
	"context"

	"github.com/levachev/communiverse/internal/models"
)

func (d *Database) SaveAction(ctx context.Context, action *models.UserAction) error {
	return d.db.WithContext(ctx).Create(action).Error
}
