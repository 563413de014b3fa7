package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxType string

const (
	Credit TxType = "CREDIT"
	Debit  TxType = "DEBIT"
)

// Category names the wallet balance a ledger row moves.
type Category string

const (
	CategoryInvestment   Category = "INVESTMENT"
	CategoryCommission   Category = "COMMISSION"
	CategoryRentalIncome Category = "RENTAL_INCOME"
	CategoryROI          Category = "ROI"
	CategoryLocked       Category = "LOCKED"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryInvestment, CategoryCommission, CategoryRentalIncome, CategoryROI, CategoryLocked:
		return true
	}
	return false
}

// Purpose says which lifetime counter, if any, a ledger row feeds.
type Purpose string

const (
	PurposeEarning    Purpose = "EARNING"
	PurposeDeposit    Purpose = "DEPOSIT"
	PurposeInvestment Purpose = "INVESTMENT"
	PurposeWithdrawal Purpose = "WITHDRAWAL"
	PurposeTransfer   Purpose = "TRANSFER"
	PurposeReversal   Purpose = "REVERSAL"
)

// Transaction is an immutable ledger row. Rows are never updated or
// deleted; a rejection is a new row with Purpose REVERSAL.
type Transaction struct {
	ID              uint            `gorm:"primarykey" json:"id"`
	TxnID           uuid.UUID       `gorm:"type:varchar(36);uniqueIndex;not null" json:"transaction_id"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	IdempotencyKey  string          `gorm:"size:191;uniqueIndex;not null" json:"idempotency_key"`
	EventID         string          `gorm:"size:128;index" json:"event_id"`
	UserID          uint            `gorm:"index;not null" json:"user_id"`
	Type            TxType          `gorm:"size:8;not null" json:"type"`
	Category        Category        `gorm:"size:16;not null" json:"category"`
	Purpose         Purpose         `gorm:"size:16;not null" json:"purpose"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	IncomeType      IncomeType      `gorm:"size:32" json:"income_type,omitempty"`
	ReversesKey     string          `gorm:"size:191" json:"reverses_key,omitempty"`
	ReversedPurpose Purpose         `gorm:"size:16" json:"reversed_purpose,omitempty"`
	Description     string          `gorm:"size:255" json:"description"`
	PlanVersion     string          `gorm:"size:32" json:"plan_version"`
}

// TableName specifies the table name
func (Transaction) TableName() string {
	return "transactions"
}

// Wallet is the projection of a user's ledger rows.
type Wallet struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"uniqueIndex:idx_wallet_user;not null" json:"user_id"`

	InvestmentBalance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"investment_balance"`
	CommissionBalance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission_balance"`
	RentalIncomeBalance decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"rental_income_balance"`
	ROIBalance          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"roi_balance"`
	LockedBalance       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"locked_balance"`

	TotalEarned    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_earned"`
	TotalWithdrawn decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_withdrawn"`
	TotalInvested  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_invested"`

	// LastTransactionID is the highest ledger row folded into the balances.
	LastTransactionID uint `gorm:"not null;default:0" json:"last_transaction_id"`
	Version           uint `gorm:"not null;default:0" json:"version"`
}

// TableName specifies the table name
func (Wallet) TableName() string {
	return "wallets"
}

// Balance returns a pointer to the balance column backing c.
func (w *Wallet) Balance(c Category) *decimal.Decimal {
	switch c {
	case CategoryInvestment:
		return &w.InvestmentBalance
	case CategoryCommission:
		return &w.CommissionBalance
	case CategoryRentalIncome:
		return &w.RentalIncomeBalance
	case CategoryROI:
		return &w.ROIBalance
	case CategoryLocked:
		return &w.LockedBalance
	}
	return nil
}

// Spendable is the sum of the balances a user can withdraw or reinvest.
func (w *Wallet) Spendable() decimal.Decimal {
	return w.InvestmentBalance.Add(w.CommissionBalance).Add(w.RentalIncomeBalance).Add(w.ROIBalance)
}

// IdempotencyKey builds the deterministic key shared by an income row and
// its ledger posting.
func IdempotencyKey(source string, kind string, userID uint, qualifier string) string {
	return fmt.Sprintf("%s:%s:%d:%s", source, kind, userID, qualifier)
}
