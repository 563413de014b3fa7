package repository

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionRepository is the append-only ledger table. It has no update
// or delete methods.
type TransactionRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewTransactionRepository(db *gorm.DB, log *logrus.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log,
	}
}

// Insert appends txn unless its idempotency key is already present. The
// boolean reports whether a row was written.
func (r *TransactionRepository) Insert(ctx context.Context, txn *model.Transaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TransactionRepository) GetByKey(ctx context.Context, key string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&txn).Error
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", key, notFound(err))
	}
	return &txn, nil
}

func (r *TransactionRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id").
		Find(&txns).Error
	return txns, err
}

// ListByUser returns a user's rows in commit order.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uint) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&txns).Error
	return txns, err
}

// TransactionFilter narrows a ledger listing. Zero fields do not filter.
type TransactionFilter struct {
	UserID     uint
	Type       model.TxType
	Category   model.Category
	Purpose    model.Purpose
	IncomeType model.IncomeType
	From       *time.Time
	To         *time.Time
}

func (f TransactionFilter) apply(db *gorm.DB) *gorm.DB {
	db = db.Where("user_id = ?", f.UserID)
	if f.Type != "" {
		db = db.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		db = db.Where("category = ?", f.Category)
	}
	if f.Purpose != "" {
		db = db.Where("purpose = ?", f.Purpose)
	}
	if f.IncomeType != "" {
		db = db.Where("income_type = ?", f.IncomeType)
	}
	if f.From != nil {
		db = db.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("created_at < ?", *f.To)
	}
	return db
}

// Page returns one page of matching rows, newest first, and the total
// number of matches.
func (r *TransactionRepository) Page(ctx context.Context, filter TransactionFilter, limit, offset int) ([]model.Transaction, int64, error) {
	var total int64
	if err := filter.apply(r.db.WithContext(ctx).Model(&model.Transaction{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []model.Transaction
	err := filter.apply(r.db.WithContext(ctx)).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	return txns, total, err
}

// InvestedByUser sums the investment principal locked by each user with
// from <= created_at < to. A nil bound is open.
func (r *TransactionRepository) InvestedByUser(ctx context.Context, userIDs []uint, from, to *time.Time) (map[uint]decimal.Decimal, error) {
	out := make(map[uint]decimal.Decimal, len(userIDs))
	for _, chunk := range chunks(userIDs) {
		var rows []struct {
			UserID uint
			Total  decimal.Decimal
		}
		q := r.db.WithContext(ctx).
			Model(&model.Transaction{}).
			Select("user_id, SUM(amount) AS total").
			Where("user_id IN ? AND type = ? AND category = ? AND purpose = ?",
				chunk, model.Credit, model.CategoryLocked, model.PurposeInvestment)
		if from != nil {
			q = q.Where("created_at >= ?", *from)
		}
		if to != nil {
			q = q.Where("created_at < ?", *to)
		}
		if err := q.Group("user_id").Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to sum investments: %w", err)
		}
		for _, row := range rows {
			out[row.UserID] = row.Total
		}
	}
	return out, nil
}
