package repository

import (
	"context"
	"fmt"

	"compensation-engine/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RewardRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewRewardRepository(db *gorm.DB, log *logrus.Logger) *RewardRepository {
	return &RewardRepository{
		db:  db,
		log: log,
	}
}

// Insert creates a reward unless one exists for the same user, rank, type
// and period.
func (r *RewardRepository) Insert(ctx context.Context, reward *model.RankReward) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "rank_code"},
				{Name: "reward_type"},
				{Name: "period_month"},
				{Name: "period_year"},
			},
			DoNothing: true,
		}).
		Create(reward)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IDsByStatus returns up to limit ids of rewards of the given types in
// status for the period, in id order.
func (r *RewardRepository) IDsByStatus(ctx context.Context, types []model.RewardType, month, year int, status model.RewardStatus, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.RankReward{}).
		Where("reward_type IN ? AND period_month = ? AND period_year = ? AND status = ?", types, month, year, status).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *RewardRepository) GetForUpdate(ctx context.Context, id uint) (*model.RankReward, error) {
	var reward model.RankReward
	if err := forUpdate(r.db.WithContext(ctx)).First(&reward, id).Error; err != nil {
		return nil, fmt.Errorf("reward %d: %w", id, notFound(err))
	}
	return &reward, nil
}

func (r *RewardRepository) Save(ctx context.Context, reward *model.RankReward) error {
	return r.db.WithContext(ctx).Save(reward).Error
}

func (r *RewardRepository) ListForPeriod(ctx context.Context, rewardType model.RewardType, month, year int) ([]model.RankReward, error) {
	var rewards []model.RankReward
	err := r.db.WithContext(ctx).
		Where("reward_type = ? AND period_month = ? AND period_year = ?", rewardType, month, year).
		Order("id").
		Find(&rewards).Error
	return rewards, err
}

func (r *RewardRepository) ListByUser(ctx context.Context, userID uint) ([]model.RankReward, error) {
	var rewards []model.RankReward
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&rewards).Error
	return rewards, err
}
