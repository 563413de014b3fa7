package reconcile

import (
	"context"
	"testing"

	"compensation-engine/internal/config"
	"compensation-engine/internal/dbtest"
	"compensation-engine/internal/ledger"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"compensation-engine/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seed(t *testing.T) (*gorm.DB, *repository.Store) {
	t.Helper()
	db := dbtest.Open(t)
	log := dbtest.Logger()
	store := repository.NewStore(db, log)
	lg := ledger.NewStore(wallet.NewProjector(log), log)

	postings := []ledger.Posting{
		{Key: "dep-1", EventID: "dep-1", UserID: 1, Type: model.Credit, Category: model.CategoryInvestment, Purpose: model.PurposeDeposit, Amount: decimal.NewFromInt(500)},
		{Key: "inv-1", EventID: "inv-1", UserID: 1, Type: model.Credit, Category: model.CategoryLocked, Purpose: model.PurposeInvestment, Amount: decimal.NewFromInt(1000)},
		{Key: "dr-1", EventID: "inv-2", UserID: 2, Type: model.Credit, Category: model.CategoryCommission, Purpose: model.PurposeEarning, Amount: decimal.NewFromInt(50), IncomeType: model.IncomeDirectReferral},
		{Key: "wd-1", EventID: "wd-1", UserID: 2, Type: model.Debit, Category: model.CategoryCommission, Purpose: model.PurposeWithdrawal, Amount: decimal.NewFromInt(20)},
	}
	err := store.InTx(context.Background(), func(rs *repository.Set) error {
		_, err := lg.Commit(context.Background(), rs, "v1", postings)
		return err
	})
	require.NoError(t, err)
	return db, store
}

func TestCheckFindsNoDriftOnProjectedWallets(t *testing.T) {
	_, store := seed(t)
	r := New(store, config.ReconcileConfig{BatchSize: 1}, dbtest.Logger())

	drifts, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestCheckReportsDrift(t *testing.T) {
	db, store := seed(t)
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", 2).Update("commission_balance", decimal.NewFromInt(999)).Error)

	drifts, err := New(store, config.ReconcileConfig{}, dbtest.Logger()).Check(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, uint(2), drifts[0].UserID)
	assert.Equal(t, "commission_balance", drifts[0].Field)
	assert.True(t, decimal.NewFromInt(30).Equal(drifts[0].Ledger))
}

func TestCheckWithoutWallets(t *testing.T) {
	store := repository.NewStore(dbtest.Open(t), dbtest.Logger())
	drifts, err := New(store, config.ReconcileConfig{}, dbtest.Logger()).Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
