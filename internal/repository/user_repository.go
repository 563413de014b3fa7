package repository

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UserRepository is the graph store: tree edges plus the engine-owned
// aggregates on each user row.
type UserRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewUserRepository(db *gorm.DB, log *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: log,
	}
}

func (r *UserRepository) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("user %d: %w", id, notFound(err))
	}
	return &user, nil
}

// GetPlacementChild returns the node seated on side under parentID, or nil
// when the slot is free.
func (r *UserRepository) GetPlacementChild(ctx context.Context, parentID uint, side model.Side) (*model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("placement_user_id = ? AND placement_side = ?", parentID, side).
		Limit(1).
		Find(&users).Error
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

// CreateUser inserts a new node. A unique violation means the id or the
// placement slot was taken concurrently.
func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %d: %w", user.ID, apperr.ErrInvalidPlacement)
	}
	return err
}

// LockUsers loads and row-locks users in ascending id order. Missing ids
// are reported as ErrNotFound.
func (r *UserRepository) LockUsers(ctx context.Context, ids []uint) (map[uint]*model.User, error) {
	ids = sortedIDs(ids)
	result := make(map[uint]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var users []model.User
	err := forUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
		}
	}
	return result, nil
}

// SaveAggregates writes the engine-owned columns of user if nobody changed
// the row since it was read.
func (r *UserRepository) SaveAggregates(ctx context.Context, user *model.User) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Updates(map[string]interface{}{
			"left_bv":             user.LeftBV,
			"right_bv":            user.RightBV,
			"carry_forward_left":  user.CarryForwardLeft,
			"carry_forward_right": user.CarryForwardRight,
			"total_left_bv":       user.TotalLeftBV,
			"total_right_bv":      user.TotalRightBV,
			"personal_investment": user.PersonalInvestment,
			"team_investment":     user.TeamInvestment,
			"rank_code":           user.RankCode,
			"rank_order":          user.RankOrder,
			"version":             user.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d version %d: %w", user.ID, user.Version, apperr.ErrConflict)
	}
	user.Version++
	return nil
}

// CountActiveDirects returns, per sponsor, the number of ACTIVE users it
// recruited.
func (r *UserRepository) CountActiveDirects(ctx context.Context, sponsorIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(sponsorIDs))
	if len(sponsorIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		SponsorID uint
		Total     int
	}
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Select("sponsor_id, COUNT(*) AS total").
		Where("sponsor_id IN ? AND status = ?", sortedIDs(sponsorIDs), model.StatusActive).
		Group("sponsor_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.SponsorID] = row.Total
	}
	return counts, nil
}

// Referral is a sponsor edge.
type Referral struct {
	ID        uint
	SponsorID uint
}

// ListSponsored returns the users recruited by any of sponsorIDs, whatever
// their status.
func (r *UserRepository) ListSponsored(ctx context.Context, sponsorIDs []uint) ([]Referral, error) {
	var out []Referral
	for _, chunk := range chunks(sponsorIDs) {
		var rows []Referral
		err := r.db.WithContext(ctx).
			Model(&model.User{}).
			Select("id, sponsor_id").
			Where("sponsor_id IN ?", chunk).
			Order("id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ListActive pages through ACTIVE users by id.
func (r *UserRepository) ListActive(ctx context.Context, limit, offset int) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	return users, err
}

// ListRanked returns users whose current rank is one of codes.
func (r *UserRepository) ListRanked(ctx context.Context, codes []string, limit, offset int) ([]model.User, error) {
	var users []model.User
	if len(codes) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).
		Where("rank_code IN ? AND status = ?", codes, model.StatusActive).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	return users, err
}

func (r *UserRepository) SetStatus(ctx context.Context, id uint, status model.UserStatus) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}
