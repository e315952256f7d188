package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/levachev/communiverse/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (d *Database) EnsureWallet(ctx context.Context, userID uuid.UUID, initialBalance int64) error {
	wallet := models.Wallet{UserID: userID, Balance: initialBalance}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error
}

func (d *Database) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var wallet models.Wallet
	if err := d.db.WithContext(ctx).First(&wallet, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return wallet.Balance, nil
}

// Debit списывает монеты условным апдейтом: баланс не уходит в минус
// даже при параллельных списаниях.
func (d *Database) Debit(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := d.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Transfer переводит монеты между кошельками одной транзакцией:
// списание и зачисление либо проходят вместе, либо не проходят вовсе
func (d *Database) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Wallet{}).
			Where("user_id = ? AND balance >= ?", fromID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		receiver := models.Wallet{UserID: toID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receiver).Error; err != nil {
			return err
		}
		return tx.Model(&models.Wallet{}).
			Where("user_id = ?", toID).
			Update("balance", gorm.Expr("balance + ?", amount)).Error
	})
}

func (d *Database) Credit(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := d.EnsureWallet(ctx, userID, 0); err != nil {
		return err
	}
	return d.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}
