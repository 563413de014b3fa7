package repository

import (
	"context"
	"fmt"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository stores the wallet projection. Only the projector
// writes through it.
type WalletRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewWalletRepository(db *gorm.DB, log *logrus.Logger) *WalletRepository {
	return &WalletRepository{
		db:  db,
		log: log,
	}
}

// GetByUserIDs retrieves wallets for given user IDs
func (r *WalletRepository) GetByUserIDs(ctx context.Context, userIDs []uint) ([]model.Wallet, error) {
	var wallets []model.Wallet
	if len(userIDs) == 0 {
		return wallets, nil
	}

	err := r.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("user_id").
		Find(&wallets).Error

	return wallets, err
}

// GetForUpdate locks the wallets of userIDs in ascending user order,
// creating empty wallets for users that have none yet.
func (r *WalletRepository) GetForUpdate(ctx context.Context, userIDs []uint) (map[uint]*model.Wallet, error) {
	ids := sortedIDs(userIDs)
	result := make(map[uint]*model.Wallet, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	empty := make([]model.Wallet, 0, len(ids))
	for _, id := range ids {
		empty = append(empty, model.Wallet{UserID: id})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&empty).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create wallets: %w", err)
	}

	var wallets []model.Wallet
	err = forUpdate(r.db.WithContext(ctx)).
		Where("user_id IN ?", ids).
		Order("user_id").
		Find(&wallets).Error
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		result[wallets[i].UserID] = &wallets[i]
	}
	return result, nil
}

// Save writes wallet if its version still matches the stored row.
func (r *WalletRepository) Save(ctx context.Context, wallet *model.Wallet) error {
	res := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"investment_balance":    wallet.InvestmentBalance,
			"commission_balance":    wallet.CommissionBalance,
			"rental_income_balance": wallet.RentalIncomeBalance,
			"roi_balance":           wallet.ROIBalance,
			"locked_balance":        wallet.LockedBalance,
			"total_earned":          wallet.TotalEarned,
			"total_withdrawn":       wallet.TotalWithdrawn,
			"total_invested":        wallet.TotalInvested,
			"last_transaction_id":   wallet.LastTransactionID,
			"version":               wallet.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("wallet of user %d version %d: %w", wallet.UserID, wallet.Version, apperr.ErrConflict)
	}
	wallet.Version++
	return nil
}

// List pages through all wallets (for reconciliation)
func (r *WalletRepository) List(ctx context.Context, limit, offset int) ([]model.Wallet, error) {
	var wallets []model.Wallet
	err := r.db.WithContext(ctx).
		Order("user_id").
		Limit(limit).
		Offset(offset).
		Find(&wallets).Error

	return wallets, err
}

// Count returns total count of wallets
func (r *WalletRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Wallet{}).Count(&count).Error
	return count, err
}
