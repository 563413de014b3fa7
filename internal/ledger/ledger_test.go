package ledger

import (
	"context"
	"testing"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/dbtest"
	"compensation-engine/internal/model"
	"compensation-engine/internal/repository"
	"compensation-engine/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*repository.Store, *Store) {
	t.Helper()
	db := dbtest.Open(t)
	log := dbtest.Logger()
	return repository.NewStore(db, log), NewStore(wallet.NewProjector(log), log)
}

func earning(key string, user uint, amount string) Posting {
	return Posting{
		Key:        key,
		EventID:    "evt-1",
		UserID:     user,
		Type:       model.Credit,
		Category:   model.CategoryCommission,
		Purpose:    model.PurposeEarning,
		Amount:     decimal.RequireFromString(amount),
		IncomeType: model.IncomeDirectReferral,
	}
}

func walletOf(t *testing.T, store *repository.Store, user uint) model.Wallet {
	t.Helper()
	wallets, err := store.Repos().Wallets.GetByUserIDs(context.Background(), []uint{user})
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	return wallets[0]
}

func TestCommitIsIdempotent(t *testing.T) {
	store, ledger := setup(t)
	ctx := context.Background()

	postings := []Posting{earning("k1", 1, "50"), earning("k2", 2, "25.5")}
	for i := 0; i < 2; i++ {
		err := store.InTx(ctx, func(rs *repository.Set) error {
			written, err := ledger.Commit(ctx, rs, "v1", postings)
			if i == 0 {
				assert.Len(t, written, 2)
			} else {
				assert.Empty(t, written)
			}
			return err
		})
		require.NoError(t, err)
	}

	w := walletOf(t, store, 1)
	assert.Equal(t, "50.00", w.CommissionBalance.StringFixed(2))
	assert.Equal(t, "50.00", w.TotalEarned.StringFixed(2))

	txn, err := store.Repos().Transactions.GetByKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "v1", txn.PlanVersion)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", txn.TxnID.String())
}

func TestCommitIsAllOrNothing(t *testing.T) {
	store, ledger := setup(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(rs *repository.Set) error {
		_, err := ledger.Commit(ctx, rs, "v1", []Posting{
			earning("k1", 1, "50"),
			{Key: "w1", UserID: 1, Type: model.Debit, Category: model.CategoryCommission, Purpose: model.PurposeWithdrawal, Amount: decimal.NewFromInt(80)},
		})
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	_, err = store.Repos().Transactions.GetByKey(ctx, "k1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCommitRejectsInvalidPostings(t *testing.T) {
	store, ledger := setup(t)
	ctx := context.Background()

	bad := []Posting{
		earning("", 1, "1"),
		earning("k", 0, "1"),
		earning("k", 1, "0"),
		{Key: "k", UserID: 1, Type: "MOVE", Category: model.CategoryROI, Amount: decimal.NewFromInt(1)},
		{Key: "k", UserID: 1, Type: model.Credit, Category: "GIFT", Amount: decimal.NewFromInt(1)},
	}
	for _, p := range bad {
		err := store.InTx(ctx, func(rs *repository.Set) error {
			_, err := ledger.Commit(ctx, rs, "v1", []Posting{p})
			return err
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
	}
}

func TestReverse(t *testing.T) {
	store, ledger := setup(t)
	ctx := context.Background()

	require.NoError(t, store.InTx(ctx, func(rs *repository.Set) error {
		_, err := ledger.Commit(ctx, rs, "v1", []Posting{earning("k1", 1, "50")})
		return err
	}))

	var first *model.Transaction
	for i := 0; i < 2; i++ {
		require.NoError(t, store.InTx(ctx, func(rs *repository.Set) error {
			rev, err := ledger.Reverse(ctx, rs, "k1", "rejected by admin", "v1")
			if err != nil {
				return err
			}
			if first == nil {
				first = rev
			} else {
				assert.Equal(t, first.ID, rev.ID)
			}
			return nil
		}))
	}

	assert.Equal(t, model.Debit, first.Type)
	assert.Equal(t, model.PurposeReversal, first.Purpose)
	assert.Equal(t, model.PurposeEarning, first.ReversedPurpose)
	assert.Equal(t, "k1", first.ReversesKey)

	w := walletOf(t, store, 1)
	assert.True(t, w.CommissionBalance.IsZero())
	assert.True(t, w.TotalEarned.IsZero())

	// The original row is untouched.
	orig, err := store.Repos().Transactions.GetByKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.Credit, orig.Type)

	err = store.InTx(ctx, func(rs *repository.Set) error {
		_, err := ledger.Reverse(ctx, rs, ReversalKey("k1"), "", "v1")
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}
