package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type IncomeType string

const (
	IncomeDirectReferral       IncomeType = "DIRECT_REFERRAL"
	IncomeBinaryPairing        IncomeType = "BINARY_PAIRING"
	IncomeLevelCommission      IncomeType = "LEVEL_COMMISSION"
	IncomeMatchingBonus        IncomeType = "MATCHING_BONUS"
	IncomeRankBonus            IncomeType = "RANK_BONUS"
	IncomeLeadershipBonus      IncomeType = "LEADERSHIP_BONUS"
	IncomeClub                 IncomeType = "CLUB_INCOME"
	IncomeROI                  IncomeType = "ROI"
	IncomeRentalIncome         IncomeType = "RENTAL_INCOME"
	IncomePropertyAppreciation IncomeType = "PROPERTY_APPRECIATION"
)

type IncomeStatus string

const (
	IncomePending  IncomeStatus = "PENDING"
	IncomeApproved IncomeStatus = "APPROVED"
	IncomePaid     IncomeStatus = "PAID"
	IncomeRejected IncomeStatus = "REJECTED"
	// IncomeBlocked marks a commission withheld by an unlock rule. It never
	// reaches the ledger.
	IncomeBlocked IncomeStatus = "BLOCKED"
)

// Posted reports whether an income in this status has a ledger credit.
func (s IncomeStatus) Posted() bool {
	return s == IncomeApproved || s == IncomePaid
}

// Income is a commission or earning credited to a beneficiary.
type Income struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	IdempotencyKey string          `gorm:"size:191;uniqueIndex;not null" json:"idempotency_key"`
	EventID        string          `gorm:"size:128;index" json:"event_id"`
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	FromUserID     *uint           `json:"from_user_id"`
	IncomeType     IncomeType      `gorm:"size:32;index;not null" json:"income_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BaseAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"base_amount"`
	Percent        decimal.Decimal `gorm:"type:decimal(9,4);not null" json:"percent"`
	Level          int             `gorm:"not null;default:0" json:"level"`
	Side           string          `gorm:"size:5" json:"side,omitempty"`
	Status         IncomeStatus    `gorm:"size:16;index;not null" json:"status"`
	Remarks        string          `gorm:"size:255" json:"remarks"`
	PlanVersion    string          `gorm:"size:32" json:"plan_version"`
}

// TableName specifies the table name
func (Income) TableName() string {
	return "incomes"
}

// Category is the wallet balance an income of this type is credited to.
func (t IncomeType) Category() Category {
	switch t {
	case IncomeROI, IncomePropertyAppreciation:
		return CategoryROI
	case IncomeRentalIncome:
		return CategoryRentalIncome
	}
	return CategoryCommission
}
