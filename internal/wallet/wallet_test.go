package wallet

import (
	"testing"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func row(id uint, typ model.TxType, cat model.Category, purpose model.Purpose, amount string) model.Transaction {
	return model.Transaction{ID: id, UserID: 7, Type: typ, Category: cat, Purpose: purpose, Amount: dec(amount)}
}

func TestProjectCountersAndBalances(t *testing.T) {
	reversal := row(6, model.Debit, model.CategoryCommission, model.PurposeReversal, "20")
	reversal.ReversedPurpose = model.PurposeEarning

	w, err := Fold(7, []model.Transaction{
		row(1, model.Credit, model.CategoryInvestment, model.PurposeDeposit, "500"),
		row(2, model.Debit, model.CategoryInvestment, model.PurposeTransfer, "300"),
		row(3, model.Credit, model.CategoryLocked, model.PurposeInvestment, "300"),
		row(4, model.Credit, model.CategoryCommission, model.PurposeEarning, "50"),
		row(5, model.Debit, model.CategoryCommission, model.PurposeWithdrawal, "10"),
		reversal,
		row(7, model.Credit, model.CategoryROI, model.PurposeEarning, "5.25"),
	})
	require.NoError(t, err)

	assert.Equal(t, "200.00", w.InvestmentBalance.StringFixed(2))
	assert.Equal(t, "300.00", w.LockedBalance.StringFixed(2))
	assert.Equal(t, "20.00", w.CommissionBalance.StringFixed(2))
	assert.Equal(t, "5.25", w.ROIBalance.StringFixed(2))
	assert.Equal(t, "35.25", w.TotalEarned.StringFixed(2))
	assert.Equal(t, "10.00", w.TotalWithdrawn.StringFixed(2))
	assert.Equal(t, "300.00", w.TotalInvested.StringFixed(2))
	assert.Equal(t, "225.25", w.Spendable().StringFixed(2))
	assert.Equal(t, uint(7), w.LastTransactionID)
}

func TestWithdrawalNeedsFunds(t *testing.T) {
	w := model.Wallet{UserID: 7, CommissionBalance: dec("10")}
	err := Project(&w, []model.Transaction{row(1, model.Debit, model.CategoryCommission, model.PurposeWithdrawal, "10.01")})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, "10.00", w.CommissionBalance.StringFixed(2))
}

func TestReversalMayOverdraw(t *testing.T) {
	reversal := row(2, model.Debit, model.CategoryCommission, model.PurposeReversal, "50")
	reversal.ReversedPurpose = model.PurposeEarning

	w, err := Fold(7, []model.Transaction{
		row(1, model.Credit, model.CategoryCommission, model.PurposeEarning, "50"),
		row(3, model.Debit, model.CategoryCommission, model.PurposeWithdrawal, "50"),
	})
	require.NoError(t, err)

	require.NoError(t, Project(&w, []model.Transaction{reversal}))
	assert.Equal(t, "-50.00", w.CommissionBalance.StringFixed(2))
	assert.True(t, w.TotalEarned.IsZero())
}

func TestReversedWithdrawalRestoresCounter(t *testing.T) {
	back := row(3, model.Credit, model.CategoryCommission, model.PurposeReversal, "40")
	back.ReversedPurpose = model.PurposeWithdrawal

	w, err := Fold(7, []model.Transaction{
		row(1, model.Credit, model.CategoryCommission, model.PurposeEarning, "100"),
		row(2, model.Debit, model.CategoryCommission, model.PurposeWithdrawal, "40"),
		back,
	})
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.CommissionBalance.StringFixed(2))
	assert.True(t, w.TotalWithdrawn.IsZero())
}

func TestUnknownCategory(t *testing.T) {
	_, err := Fold(7, []model.Transaction{row(1, model.Credit, "BONUS", model.PurposeEarning, "1")})
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
}
