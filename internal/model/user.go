package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusInactive  UserStatus = "INACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
	StatusBlocked   UserStatus = "BLOCKED"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusBlocked:
		return true
	}
	return false
}

// Side is the position of a node under its binary placement parent.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// User is a member of both genealogy trees. The BV, investment and rank
// columns are aggregates owned by the engine and only change through
// computed deltas guarded by Version.
type User struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Username  string     `gorm:"size:64;index" json:"username"`
	Status    UserStatus `gorm:"size:16;not null;index" json:"status"`

	SponsorID       *uint `gorm:"index" json:"sponsor_id"`
	PlacementUserID *uint `gorm:"uniqueIndex:idx_placement_slot" json:"placement_user_id"`
	PlacementSide   *Side `gorm:"size:5;uniqueIndex:idx_placement_slot" json:"placement_side"`

	LeftBV            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"left_bv"`
	RightBV           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"right_bv"`
	CarryForwardLeft  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"carry_forward_left"`
	CarryForwardRight decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"carry_forward_right"`
	TotalLeftBV       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_left_bv"`
	TotalRightBV      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_right_bv"`

	PersonalInvestment decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"personal_investment"`
	TeamInvestment     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"team_investment"`

	RankCode  string `gorm:"size:32" json:"rank_code"`
	RankOrder int    `gorm:"not null;default:0" json:"rank_order"`

	Version uint `gorm:"not null;default:0" json:"version"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// BothLegsActive reports whether each binary leg has produced volume.
func (u *User) BothLegsActive() bool {
	return u.TotalLeftBV.IsPositive() && u.TotalRightBV.IsPositive()
}

// VolumeContribution records the BV an event pushed onto one ancestor.
type VolumeContribution struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	EventID       string          `gorm:"size:128;not null;uniqueIndex:idx_contribution" json:"event_id"`
	BeneficiaryID uint            `gorm:"not null;uniqueIndex:idx_contribution;index" json:"beneficiary_id"`
	Tree          string          `gorm:"size:8;not null;uniqueIndex:idx_contribution" json:"tree"`
	FromUserID    uint            `gorm:"not null" json:"from_user_id"`
	Level         int             `gorm:"not null" json:"level"`
	Side          string          `gorm:"size:5" json:"side"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
}

const (
	TreeBinary  = "BINARY"
	TreeSponsor = "SPONSOR"
)

// TableName specifies the table name
func (VolumeContribution) TableName() string {
	return "volume_contributions"
}
