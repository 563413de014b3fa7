package repository

import (
	"context"
	"fmt"

	"compensation-engine/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewEventRepository(db *gorm.DB, log *logrus.Logger) *EventRepository {
	return &EventRepository{
		db:  db,
		log: log,
	}
}

// SaveEvent marks an event as processed. It reports false when the event
// id was already recorded, which makes the caller's unit of work a replay.
func (r *EventRepository) SaveEvent(ctx context.Context, event *model.ProcessedEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// EventExists checks if an event with given event_id already exists
func (r *EventRepository) EventExists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error

	return count > 0, err
}

func (r *EventRepository) GetEvent(ctx context.Context, eventID string) (*model.ProcessedEvent, error) {
	var event model.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, notFound(err))
	}
	return &event, nil
}

// Park keeps a failed event for manual review.
func (r *EventRepository) Park(ctx context.Context, parked *model.ParkedEvent) error {
	return r.db.WithContext(ctx).Create(parked).Error
}

func (r *EventRepository) ListParked(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]model.ParkedEvent, error) {
	var parked []model.ParkedEvent
	db := r.db.WithContext(ctx)
	if unresolvedOnly {
		db = db.Where("resolved = ?", false)
	}
	err := db.Order("id").Limit(limit).Offset(offset).Find(&parked).Error
	return parked, err
}

func (r *EventRepository) Resolve(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.ParkedEvent{}).
		Where("id = ?", id).
		Update("resolved", true).Error
}
