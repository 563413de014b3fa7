// Package rewards runs the monthly leadership and club bonus batches.
// Generation and processing are keyed by period and safe to re-run.
package rewards

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/repository"
	"github.com/sirupsen/logrus"
)

type Period struct {
	Month int
	Year  int
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 || p.Year < 2000 || p.Year > 9999 {
		return fmt.Errorf("period %d-%d: %w", p.Year, p.Month, apperr.ErrInvalidEvent)
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PreviousMonth is the calendar month before the one containing t.
func PreviousMonth(t time.Time) Period {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, -1, 0)
	return Period{Month: int(first.Month()), Year: first.Year()}
}

// Payer credits a single pending reward in its own transaction.
type Payer interface {
	PayReward(ctx context.Context, id uint) (bool, error)
}

type Service struct {
	store     *repository.Store
	payer     Payer
	plans     *plan.Holder
	batchSize int
	log       *logrus.Logger
	now       func() time.Time
}

func NewService(store *repository.Store, payer Payer, plans *plan.Holder, batchSize int, log *logrus.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		store:     store,
		payer:     payer,
		plans:     plans,
		batchSize: batchSize,
		log:       log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Generate creates a PENDING reward for every ACTIVE user whose current
// rank carries a monthly bonus. Rows that already exist for the period are
// left alone. It returns the number of rows created.
func (s *Service) Generate(ctx context.Context, period Period) (int, error) {
	if err := period.Validate(); err != nil {
		return 0, err
	}
	p := s.plans.Current()

	eligible := make(map[string]plan.Rank)
	var codes []string
	for _, r := range p.SortedRanks() {
		if p.Round(r.MonthlyBonus).IsPositive() {
			eligible[r.Code] = r
			codes = append(codes, r.Code)
		}
	}
	if len(codes) == 0 {
		return 0, nil
	}

	repos := s.store.Repos()
	created := 0
	for offset := 0; ; {
		users, err := repos.Users.ListRanked(ctx, codes, s.batchSize, offset)
		if err != nil {
			return created, fmt.Errorf("failed to list ranked users: %w", err)
		}
		for i := range users {
			r := eligible[users[i].RankCode]
			inserted, err := repos.Rewards.Insert(ctx, &model.RankReward{
				UserID:      users[i].ID,
				RankCode:    r.Code,
				RewardType:  model.RewardMonthlyLeadership,
				PeriodMonth: period.Month,
				PeriodYear:  period.Year,
				Amount:      p.Round(r.MonthlyBonus),
				Status:      model.RewardPending,
				Notes:       fmt.Sprintf("%s monthly bonus", r.Name),
				PlanVersion: p.Version,
			})
			if err != nil {
				return created, fmt.Errorf("failed to create reward for user %d: %w", users[i].ID, err)
			}
			if inserted {
				created++
			}
		}
		if len(users) < s.batchSize {
			break
		}
		offset += len(users)
	}

	metrics.RecordRewards("generated", created)
	s.log.WithFields(logrus.Fields{
		"period":  period.String(),
		"created": created,
	}).Info("monthly rewards generated")
	return created, nil
}

// Process credits every PENDING reward of the period. Each reward commits
// on its own, so a failure leaves finished rows PROCESSED; a reward that
// cannot be paid is marked FAILED with the reason. It returns the number
// of rewards credited.
func (s *Service) Process(ctx context.Context, period Period) (int, error) {
	if err := period.Validate(); err != nil {
		return 0, err
	}
	repos := s.store.Repos()

	processed, failed := 0, 0
	attempted := make(map[uint]bool)
	for {
		ids, err := repos.Rewards.IDsByStatus(ctx, model.ScheduledRewardTypes, period.Month, period.Year, model.RewardPending, s.batchSize)
		if err != nil {
			return processed, fmt.Errorf("failed to list pending rewards: %w", err)
		}

		progress := false
		for _, id := range ids {
			if attempted[id] {
				continue
			}
			attempted[id] = true
			progress = true

			paid, err := s.payer.PayReward(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return processed, ctx.Err()
				}
				failed++
				s.log.WithFields(logrus.Fields{
					"reward_id": id,
					"period":    period.String(),
					"error":     err,
				}).Error("failed to process reward")
				if err := s.markFailed(ctx, id, err); err != nil {
					return processed, err
				}
				continue
			}
			if paid {
				processed++
			}
		}
		if !progress {
			break
		}
	}

	metrics.RecordRewards("processed", processed)
	metrics.RecordRewards("failed", failed)
	s.log.WithFields(logrus.Fields{
		"period":    period.String(),
		"processed": processed,
		"failed":    failed,
	}).Info("rewards processed")
	return processed, nil
}

func (s *Service) markFailed(ctx context.Context, id uint, cause error) error {
	return s.store.InTx(ctx, func(rs *repository.Set) error {
		reward, err := rs.Rewards.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if reward.Status != model.RewardPending {
			return nil
		}
		reward.Status = model.RewardFailed
		reward.FailureReason = truncate(cause.Error(), 255)
		return rs.Rewards.Save(ctx, reward)
	})
}

// Requeue moves the FAILED rewards of a period back to PENDING so the next
// Process picks them up.
func (s *Service) Requeue(ctx context.Context, period Period) (int, error) {
	if err := period.Validate(); err != nil {
		return 0, err
	}
	repos := s.store.Repos()

	requeued := 0
	attempted := make(map[uint]bool)
	for {
		ids, err := repos.Rewards.IDsByStatus(ctx, model.ScheduledRewardTypes, period.Month, period.Year, model.RewardFailed, s.batchSize)
		if err != nil {
			return requeued, fmt.Errorf("failed to list failed rewards: %w", err)
		}

		progress := false
		for _, id := range ids {
			if attempted[id] {
				continue
			}
			attempted[id] = true
			progress = true

			moved := false
			err := s.store.InTx(ctx, func(rs *repository.Set) error {
				moved = false
				reward, err := rs.Rewards.GetForUpdate(ctx, id)
				if err != nil {
					return err
				}
				if reward.Status != model.RewardFailed {
					return nil
				}
				reward.Status = model.RewardPending
				reward.FailureReason = ""
				moved = true
				return rs.Rewards.Save(ctx, reward)
			})
			if err != nil {
				return requeued, fmt.Errorf("failed to requeue reward %d: %w", id, err)
			}
			if moved {
				requeued++
			}
		}
		if !progress {
			break
		}
	}

	s.log.WithFields(logrus.Fields{
		"period":   period.String(),
		"requeued": requeued,
	}).Info("failed rewards requeued")
	return requeued, nil
}

// MarkPaid records that a PROCESSED reward was paid out.
func (s *Service) MarkPaid(ctx context.Context, id uint) (*model.RankReward, error) {
	var out *model.RankReward
	err := s.store.InTx(ctx, func(rs *repository.Set) error {
		reward, err := rs.Rewards.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if reward.Status != model.RewardProcessed {
			return fmt.Errorf("reward %d is %s: %w", id, reward.Status, apperr.ErrInvalidTransition)
		}
		reward.Status = model.RewardPaid
		out = reward
		return rs.Rewards.Save(ctx, reward)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRewards("paid", 1)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
