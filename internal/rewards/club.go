package rewards

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/club"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Bounds is the half-open UTC interval covered by the period.
func (p Period) Bounds() (from, to time.Time) {
	from = time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// GenerateClub evaluates every ACTIVE user against each club tier and
// creates a PENDING club bonus for each tier the user qualifies for. Rows
// that already exist for the period are left alone. It returns the number
// of rows created.
func (s *Service) GenerateClub(ctx context.Context, period Period) (int, error) {
	if err := period.Validate(); err != nil {
		return 0, err
	}
	p := s.plans.Current()
	tiers := p.SortedClubTiers()
	if len(tiers) == 0 {
		return 0, nil
	}

	repos := s.store.Repos()
	created, qualified := 0, 0
	for offset := 0; ; {
		users, err := repos.Users.ListActive(ctx, s.batchSize, offset)
		if err != nil {
			return created, fmt.Errorf("failed to list active users: %w", err)
		}
		for i := range users {
			v, err := s.teamVolume(ctx, repos, p, users[i].ID, period)
			if err != nil {
				return created, fmt.Errorf("failed to compute team volume of user %d: %w", users[i].ID, err)
			}
			for _, tier := range tiers {
				res := club.Evaluate(p, tier, v)
				if !res.Qualified() || !res.Net.IsPositive() {
					s.log.WithFields(logrus.Fields{
						"user_id": users[i].ID,
						"tier":    tier.Code,
						"status":  res.Status,
						"reason":  res.Reason,
					}).Debug("club tier not reached")
					continue
				}
				qualified++
				inserted, err := repos.Rewards.Insert(ctx, &model.RankReward{
					UserID:      users[i].ID,
					RankCode:    tier.Code,
					RewardType:  model.RewardClub,
					PeriodMonth: period.Month,
					PeriodYear:  period.Year,
					Amount:      res.Net,
					BaseAmount:  v.Total,
					Percent:     tier.BonusPercent,
					GrossAmount: res.Gross,
					TDSAmount:   res.TDS,
					Status:      model.RewardPending,
					Notes:       tier.Name,
					PlanVersion: p.Version,
				})
				if err != nil {
					return created, fmt.Errorf("failed to create club bonus for user %d: %w", users[i].ID, err)
				}
				if inserted {
					created++
				}
			}
		}
		if len(users) < s.batchSize {
			break
		}
		offset += len(users)
	}

	metrics.RecordRewards("generated", created)
	s.log.WithFields(logrus.Fields{
		"period":    period.String(),
		"qualified": qualified,
		"created":   created,
	}).Info("club bonuses generated")
	return created, nil
}

// teamVolume walks the sponsor tree under userID, assigning every member to
// the direct referral it descends from.
func (s *Service) teamVolume(ctx context.Context, repos *repository.Set, p *plan.Plan, userID uint, period Period) (club.Volume, error) {
	from, to := period.Bounds()

	leg := make(map[uint]int)
	frontier := []uint{userID}
	members := []uint{userID}
	legs := 0
	for len(frontier) > 0 {
		refs, err := repos.Users.ListSponsored(ctx, frontier)
		if err != nil {
			return club.Volume{}, err
		}
		frontier = frontier[:0]
		for _, ref := range refs {
			if _, seen := leg[ref.ID]; seen || ref.ID == userID {
				continue
			}
			if ref.SponsorID == userID {
				leg[ref.ID] = legs
				legs++
			} else {
				leg[ref.ID] = leg[ref.SponsorID]
			}
			frontier = append(frontier, ref.ID)
			members = append(members, ref.ID)
		}
	}

	total, err := repos.Transactions.InvestedByUser(ctx, members, nil, &to)
	if err != nil {
		return club.Volume{}, err
	}
	fresh, err := repos.Transactions.InvestedByUser(ctx, members, &from, &to)
	if err != nil {
		return club.Volume{}, err
	}

	v := club.Volume{
		Total:    decimal.Zero,
		NewSales: decimal.Zero,
		Legs:     make([]decimal.Decimal, legs),
	}
	for i := range v.Legs {
		v.Legs[i] = decimal.Zero
	}
	for _, id := range members {
		v.Total = v.Total.Add(total[id])
		v.NewSales = v.NewSales.Add(fresh[id])
		if id != userID {
			v.Legs[leg[id]] = v.Legs[leg[id]].Add(total[id])
		}
	}
	v.Total = p.Round(v.Total)
	v.NewSales = p.Round(v.NewSales)
	for i := range v.Legs {
		v.Legs[i] = p.Round(v.Legs[i])
	}
	return v, nil
}
