package rewards

import (
	"context"
	"fmt"
	"testing"
	"time"

	"compensation-engine/internal/dbtest"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/model"
	"compensation-engine/internal/notify"
	"compensation-engine/internal/plan"
	"compensation-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clubPlan(t *testing.T) *plan.Holder {
	t.Helper()
	p := plan.Default()
	p.ClubTiers = []plan.ClubTier{{
		Code:                 "STARTER",
		Name:                 "Starter Club",
		DisplayOrder:         1,
		RequiredTeamBusiness: decimal.NewFromInt(1000),
		NewSalesPercent:      decimal.NewFromInt(10),
		StrongLegMaxPercent:  decimal.NewFromInt(60),
		WeakLegsMinPercent:   decimal.NewFromInt(40),
		BonusPercent:         decimal.NewFromInt(10),
	}}
	require.NoError(t, p.Validate())
	return plan.NewHolder(p)
}

func invest(t *testing.T, store *repository.Store, userID uint, amount int64, at time.Time) {
	t.Helper()
	inserted, err := store.Repos().Transactions.Insert(context.Background(), &model.Transaction{
		TxnID:          uuid.New(),
		CreatedAt:      at,
		IdempotencyKey: fmt.Sprintf("test:investment:%d:%d", userID, at.UnixNano()),
		UserID:         userID,
		Type:           model.Credit,
		Category:       model.CategoryLocked,
		Purpose:        model.PurposeInvestment,
		Amount:         decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

// seedTeam builds leader 10 with direct legs 11 (with 13 below it) and 12.
func seedTeam(t *testing.T, store *repository.Store) {
	t.Helper()
	ctx := context.Background()
	leader := uint(10)
	eleven := uint(11)
	users := []model.User{
		{ID: 10, Username: "leader", Status: model.StatusActive},
		{ID: 11, Username: "left", Status: model.StatusActive, SponsorID: &leader},
		{ID: 12, Username: "right", Status: model.StatusActive, SponsorID: &leader},
		{ID: 13, Username: "deep", Status: model.StatusActive, SponsorID: &eleven},
	}
	for i := range users {
		require.NoError(t, store.Repos().Users.CreateUser(ctx, &users[i]))
	}

	august := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	september := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	october := time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC)
	invest(t, store, 10, 100, september)
	invest(t, store, 11, 300, august)
	invest(t, store, 13, 300, september)
	invest(t, store, 12, 400, september)
	invest(t, store, 12, 1000, october)
}

func TestTeamVolumeSplitsLegs(t *testing.T) {
	store, eng, _ := setup(t)
	seedTeam(t, store)
	plans := clubPlan(t)
	svc := NewService(store, eng, plans, 10, dbtest.Logger())

	v, err := svc.teamVolume(context.Background(), store.Repos(), plans.Current(), 10, Period{Month: 9, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, "1100.00", v.Total.StringFixed(2))
	assert.Equal(t, "800.00", v.NewSales.StringFixed(2))
	require.Len(t, v.Legs, 2)
	assert.Equal(t, "600.00", v.Legs[0].StringFixed(2))
	assert.Equal(t, "400.00", v.Legs[1].StringFixed(2))
}

func TestGenerateClubPaysNetOfTDS(t *testing.T) {
	store, eng, rec := setup(t)
	seedTeam(t, store)
	svc := NewService(store, eng, clubPlan(t), 2, dbtest.Logger())
	ctx := context.Background()
	period := Period{Month: 9, Year: 2026}

	created, err := svc.GenerateClub(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = svc.GenerateClub(ctx, period)
	require.NoError(t, err)
	assert.Zero(t, created)

	rows, err := store.Repos().Rewards.ListForPeriod(ctx, model.RewardClub, 9, 2026)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	reward := rows[0]
	assert.Equal(t, uint(10), reward.UserID)
	assert.Equal(t, "STARTER", reward.RankCode)
	assert.Equal(t, "1100.00", reward.BaseAmount.StringFixed(2))
	assert.Equal(t, "110.00", reward.GrossAmount.StringFixed(2))
	assert.Equal(t, "5.50", reward.TDSAmount.StringFixed(2))
	assert.Equal(t, "104.50", reward.Amount.StringFixed(2))

	processed, err := svc.Process(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	incomes, _, err := store.Repos().Incomes.Page(ctx, repository.IncomeFilter{UserID: 10, IncomeType: model.IncomeClub}, 10, 0)
	require.NoError(t, err)
	require.Len(t, incomes, 1)
	assert.Equal(t, "104.50", incomes[0].Amount.StringFixed(2))

	txn, err := store.Repos().Transactions.GetByKey(ctx, engine.RewardKey(&reward))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryCommission, txn.Category)
	assert.Len(t, rec.OfKind(notify.KindRewardPaid), 1)

	processed, err = svc.Process(ctx, period)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestGenerateClubSkipsUnbalancedTeams(t *testing.T) {
	store, eng, _ := setup(t)
	seedTeam(t, store)
	invest(t, store, 13, 500, time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC))
	svc := NewService(store, eng, clubPlan(t), 10, dbtest.Logger())

	created, err := svc.GenerateClub(context.Background(), Period{Month: 9, Year: 2026})
	require.NoError(t, err)
	assert.Zero(t, created)
}
