// Package query serves the read side: wallet balances, ledger history,
// team volume, rank progress and income listings. Every read comes from
// the projections the engine maintains.
package query

import (
	"context"
	"fmt"

	"compensation-engine/internal/model"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/rank"
	"compensation-engine/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Pagination is 1-based.
type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.PageSize
}

type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

type Service struct {
	store *repository.Store
	plans *plan.Holder
	log   *logrus.Logger
}

func New(store *repository.Store, plans *plan.Holder, log *logrus.Logger) *Service {
	return &Service{
		store: store,
		plans: plans,
		log:   log,
	}
}

type Balances struct {
	UserID         uint            `json:"user_id"`
	Investment     decimal.Decimal `json:"investment_balance"`
	Commission     decimal.Decimal `json:"commission_balance"`
	RentalIncome   decimal.Decimal `json:"rental_income_balance"`
	ROI            decimal.Decimal `json:"roi_balance"`
	Locked         decimal.Decimal `json:"locked_balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	// TotalBalance is the spendable sum; the locked principal is excluded.
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// WalletBalances returns the projected balances of a user. A user with no
// ledger rows yet has an all-zero wallet.
func (s *Service) WalletBalances(ctx context.Context, userID uint) (*Balances, error) {
	repos := s.store.Repos()
	if _, err := repos.Users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	wallets, err := repos.Wallets.GetByUserIDs(ctx, []uint{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet of user %d: %w", userID, err)
	}

	w := model.Wallet{UserID: userID}
	if len(wallets) > 0 {
		w = wallets[0]
	}
	return &Balances{
		UserID:         userID,
		Investment:     w.InvestmentBalance,
		Commission:     w.CommissionBalance,
		RentalIncome:   w.RentalIncomeBalance,
		ROI:            w.ROIBalance,
		Locked:         w.LockedBalance,
		TotalEarned:    w.TotalEarned,
		TotalWithdrawn: w.TotalWithdrawn,
		TotalInvested:  w.TotalInvested,
		TotalBalance:   w.Spendable(),
	}, nil
}

// Transactions pages a user's ledger rows, newest first.
func (s *Service) Transactions(ctx context.Context, filter repository.TransactionFilter, pg Pagination) (*Page[model.Transaction], error) {
	pg = pg.normalize()
	rows, total, err := s.store.Repos().Transactions.Page(ctx, filter, pg.PageSize, pg.offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions of user %d: %w", filter.UserID, err)
	}
	return &Page[model.Transaction]{Items: rows, Total: total, Page: pg.Page, PageSize: pg.PageSize}, nil
}

// Incomes pages a user's income rows, newest first.
func (s *Service) Incomes(ctx context.Context, filter repository.IncomeFilter, pg Pagination) (*Page[model.Income], error) {
	pg = pg.normalize()
	rows, total, err := s.store.Repos().Incomes.Page(ctx, filter, pg.PageSize, pg.offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list incomes of user %d: %w", filter.UserID, err)
	}
	return &Page[model.Income]{Items: rows, Total: total, Page: pg.Page, PageSize: pg.PageSize}, nil
}

type TeamBV struct {
	UserID            uint            `json:"user_id"`
	PersonalBV        decimal.Decimal `json:"personal_bv"`
	TeamBV            decimal.Decimal `json:"team_bv"`
	LeftBV            decimal.Decimal `json:"left_bv"`
	RightBV           decimal.Decimal `json:"right_bv"`
	TotalLeftBV       decimal.Decimal `json:"total_left_bv"`
	TotalRightBV      decimal.Decimal `json:"total_right_bv"`
	CarryForwardLeft  decimal.Decimal `json:"carry_forward_left"`
	CarryForwardRight decimal.Decimal `json:"carry_forward_right"`
	// MatchingBV is what the next pairing could match right now.
	MatchingBV decimal.Decimal         `json:"matching_bv"`
	LevelBV    map[int]decimal.Decimal `json:"level_bv"`
}

func (s *Service) TeamBV(ctx context.Context, userID uint) (*TeamBV, error) {
	repos := s.store.Repos()
	u, err := repos.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	levels, err := repos.Contributions.LevelVolume(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load level volume of user %d: %w", userID, err)
	}

	effLeft := u.LeftBV.Add(u.CarryForwardLeft)
	effRight := u.RightBV.Add(u.CarryForwardRight)
	return &TeamBV{
		UserID:            u.ID,
		PersonalBV:        u.PersonalInvestment,
		TeamBV:            u.TeamInvestment,
		LeftBV:            u.LeftBV,
		RightBV:           u.RightBV,
		TotalLeftBV:       u.TotalLeftBV,
		TotalRightBV:      u.TotalRightBV,
		CarryForwardLeft:  u.CarryForwardLeft,
		CarryForwardRight: u.CarryForwardRight,
		MatchingBV:        decimal.Min(effLeft, effRight),
		LevelBV:           levels,
	}, nil
}

type RankStatus struct {
	rank.Progress
	Achievements []model.RankAchievement `json:"achievements"`
}

// RankProgress reports the current rank, the next one and how far each of
// its thresholds is from being met.
func (s *Service) RankProgress(ctx context.Context, userID uint) (*RankStatus, error) {
	repos := s.store.Repos()
	u, err := repos.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	directs, err := repos.Users.CountActiveDirects(ctx, []uint{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to count directs of user %d: %w", userID, err)
	}
	achievements, err := repos.Ranks.Achievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements of user %d: %w", userID, err)
	}

	p := s.plans.Current()
	return &RankStatus{
		Progress:     rank.ProgressOf(u.RankCode, u.RankOrder, p.SortedRanks(), rank.MetricsOf(u, directs[userID])),
		Achievements: achievements,
	}, nil
}

// Rewards lists a user's one-time and monthly rank rewards.
func (s *Service) Rewards(ctx context.Context, userID uint) ([]model.RankReward, error) {
	return s.store.Repos().Rewards.ListByUser(ctx, userID)
}

// ParkedEvents pages the events waiting for manual review.
func (s *Service) ParkedEvents(ctx context.Context, unresolvedOnly bool, pg Pagination) ([]model.ParkedEvent, error) {
	pg = pg.normalize()
	return s.store.Repos().Events.ListParked(ctx, unresolvedOnly, pg.PageSize, pg.offset())
}
