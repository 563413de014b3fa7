package repository

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IncomeRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewIncomeRepository(db *gorm.DB, log *logrus.Logger) *IncomeRepository {
	return &IncomeRepository{
		db:  db,
		log: log,
	}
}

// Insert writes income unless an income with the same key exists.
func (r *IncomeRepository) Insert(ctx context.Context, income *model.Income) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(income)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *IncomeRepository) Get(ctx context.Context, id uint) (*model.Income, error) {
	var income model.Income
	if err := r.db.WithContext(ctx).First(&income, id).Error; err != nil {
		return nil, fmt.Errorf("income %d: %w", id, notFound(err))
	}
	return &income, nil
}

func (r *IncomeRepository) GetForUpdate(ctx context.Context, id uint) (*model.Income, error) {
	var income model.Income
	if err := forUpdate(r.db.WithContext(ctx)).First(&income, id).Error; err != nil {
		return nil, fmt.Errorf("income %d: %w", id, notFound(err))
	}
	return &income, nil
}

func (r *IncomeRepository) GetByKey(ctx context.Context, key string) (*model.Income, error) {
	var income model.Income
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&income).Error
	if err != nil {
		return nil, fmt.Errorf("income %s: %w", key, notFound(err))
	}
	return &income, nil
}

// UpdateStatus moves income from one status to another. It fails with
// ErrConflict if the stored status is no longer from.
func (r *IncomeRepository) UpdateStatus(ctx context.Context, id uint, from, to model.IncomeStatus, remarks string) error {
	updates := map[string]interface{}{"status": to}
	if remarks != "" {
		updates["remarks"] = remarks
	}
	res := r.db.WithContext(ctx).
		Model(&model.Income{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("income %d is no longer %s: %w", id, from, apperr.ErrConflict)
	}
	return nil
}

// PairedVolumeSince sums, per user, the BV matched since the given time,
// used for the daily pairing cap.
func (r *IncomeRepository) PairedVolumeSince(ctx context.Context, userIDs []uint, since time.Time) (map[uint]decimal.Decimal, error) {
	totals := make(map[uint]decimal.Decimal, len(userIDs))
	if len(userIDs) == 0 {
		return totals, nil
	}

	var rows []model.Income
	err := r.db.WithContext(ctx).
		Select("user_id", "base_amount").
		Where("user_id IN ? AND income_type = ? AND created_at >= ? AND status <> ?",
			sortedIDs(userIDs), model.IncomeBinaryPairing, since, model.IncomeRejected).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		totals[row.UserID] = totals[row.UserID].Add(row.BaseAmount)
	}
	return totals, nil
}

func (r *IncomeRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Income, error) {
	var incomes []model.Income
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id").
		Find(&incomes).Error
	return incomes, err
}

// IncomeFilter narrows an income listing. Zero fields do not filter.
type IncomeFilter struct {
	UserID     uint
	IncomeType model.IncomeType
	Status     model.IncomeStatus
}

func (r *IncomeRepository) Page(ctx context.Context, filter IncomeFilter, limit, offset int) ([]model.Income, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", filter.UserID)
		if filter.IncomeType != "" {
			db = db.Where("income_type = ?", filter.IncomeType)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Income{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var incomes []model.Income
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&incomes).Error
	return incomes, total, err
}
