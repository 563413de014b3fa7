package repository

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RankRepository stores rank achievements and the rank change trail.
type RankRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewRankRepository(db *gorm.DB, log *logrus.Logger) *RankRepository {
	return &RankRepository{
		db:  db,
		log: log,
	}
}

// InsertAchievement records that a user reached a rank. It reports false
// when the (user, rank) pair already exists.
func (r *RankRepository) InsertAchievement(ctx context.Context, a *model.RankAchievement) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "rank_code"}},
			DoNothing: true,
		}).
		Create(a)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RankRepository) GetAchievement(ctx context.Context, userID uint, code string) (*model.RankAchievement, error) {
	var a model.RankAchievement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND rank_code = ?", userID, code).
		First(&a).Error
	if err != nil {
		return nil, fmt.Errorf("achievement %d/%s: %w", userID, code, notFound(err))
	}
	return &a, nil
}

func (r *RankRepository) Achievements(ctx context.Context, userID uint) ([]model.RankAchievement, error) {
	var list []model.RankAchievement
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("display_order").
		Find(&list).Error
	return list, err
}

// MarkBonusPaid flags the one-time bonus of an achievement as paid.
func (r *RankRepository) MarkBonusPaid(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.RankAchievement{}).
		Where("id = ? AND bonus_paid = ?", id, false).
		Updates(map[string]interface{}{
			"bonus_paid":    true,
			"bonus_paid_at": at,
		}).Error
}

func (r *RankRepository) RecordChange(ctx context.Context, c *model.RankChange) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *RankRepository) Changes(ctx context.Context, userID uint) ([]model.RankChange, error) {
	var list []model.RankChange
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&list).Error
	return list, err
}

// HasManualChange reports whether an admin ever set the user's rank.
func (r *RankRepository) HasManualChange(ctx context.Context, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RankChange{}).
		Where("user_id = ? AND manual = ?", userID, true).
		Count(&count).Error
	return count > 0, err
}
