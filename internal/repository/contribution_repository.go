package repository

import (
	"context"

	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContributionRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewContributionRepository(db *gorm.DB, log *logrus.Logger) *ContributionRepository {
	return &ContributionRepository{
		db:  db,
		log: log,
	}
}

// SaveBatch records per-ancestor contributions; rows already written for
// the same event are left alone.
func (r *ContributionRepository) SaveBatch(ctx context.Context, rows []model.VolumeContribution) error {
	if len(rows) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "beneficiary_id"}, {Name: "tree"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, 200).
		Error
}

// LevelVolume sums the sponsor-tree volume received by userID per level.
func (r *ContributionRepository) LevelVolume(ctx context.Context, userID uint) (map[int]decimal.Decimal, error) {
	var rows []model.VolumeContribution
	err := r.db.WithContext(ctx).
		Select("level", "amount").
		Where("beneficiary_id = ? AND tree = ?", userID, model.TreeSponsor).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	levels := make(map[int]decimal.Decimal)
	for _, row := range rows {
		levels[row.Level] = levels[row.Level].Add(row.Amount)
	}
	return levels, nil
}

func (r *ContributionRepository) ListByEvent(ctx context.Context, eventID string) ([]model.VolumeContribution, error) {
	var rows []model.VolumeContribution
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id").
		Find(&rows).Error
	return rows, err
}
